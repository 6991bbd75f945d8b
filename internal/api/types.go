package api

import (
	"bytes"
	"encoding/json"
	"time"

	"tgtg_watcher/internal/model"
)

const defaultDecimals = 2

// flexString accepts both JSON strings and numbers.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type authByEmailRequest struct {
	DeviceType string `json:"device_type"`
	Email      string `json:"email"`
}

// AuthByEmailResponse is the reply to a login email request.
type AuthByEmailResponse struct {
	PollingID string `json:"polling_id"`
}

type authByPollingIDRequest struct {
	DeviceType       string `json:"device_type"`
	Email            string `json:"email"`
	RequestPollingID string `json:"request_polling_id"`
}

// LoginResponse is the token pair issued after the user confirmed the login email.
type LoginResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	StartupData  struct {
		User struct {
			UserID flexString `json:"user_id"`
		} `json:"user"`
	} `json:"startup_data"`
}

// UserID returns the id of the logged in user.
func (r *LoginResponse) UserID() string {
	return string(r.StartupData.User.UserID)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// RefreshResponse carries a new access token.
type RefreshResponse struct {
	AccessToken string `json:"access_token"`
}

type origin struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type listFavoritesRequest struct {
	FavoritesOnly bool   `json:"favorites_only"`
	Origin        origin `json:"origin"`
	Radius        int    `json:"radius"`
	UserID        string `json:"user_id"`
}

type favoriteItem struct {
	Item struct {
		ItemID flexString `json:"item_id"`
		Price  struct {
			Code       string `json:"code"`
			MinorUnits int64  `json:"minor_units"`
			Decimals   *int   `json:"decimals"`
		} `json:"price_including_taxes"`
	} `json:"item"`
	DisplayName    string `json:"display_name"`
	ItemsAvailable int    `json:"items_available"`
	PickupInterval *struct {
		Start time.Time `json:"start"`
		End   time.Time `json:"end"`
	} `json:"pickup_interval"`
}

type listFavoritesResponse struct {
	Items *[]favoriteItem `json:"items"`
}

func (f favoriteItem) toModel() model.Item {
	decimals := defaultDecimals
	if f.Item.Price.Decimals != nil {
		decimals = *f.Item.Price.Decimals
	}
	it := model.Item{
		ID:          string(f.Item.ItemID),
		DisplayName: f.DisplayName,
		Price: model.Price{
			MinorUnits: f.Item.Price.MinorUnits,
			Decimals:   decimals,
			Currency:   f.Item.Price.Code,
		},
		Available: max(f.ItemsAvailable, 0),
	}
	if f.PickupInterval != nil {
		it.Pickup = &model.PickupInterval{Start: f.PickupInterval.Start, End: f.PickupInterval.End}
	}
	return it
}
