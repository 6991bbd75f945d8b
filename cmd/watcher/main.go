package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"tgtg_watcher/internal/api"
	"tgtg_watcher/internal/bot"
	"tgtg_watcher/internal/config"
	"tgtg_watcher/internal/detector"
	"tgtg_watcher/internal/gate"
	"tgtg_watcher/internal/model"
	"tgtg_watcher/internal/notify"
	"tgtg_watcher/internal/scheduler"
	"tgtg_watcher/internal/session"
	"tgtg_watcher/internal/storage"
)

const usage = `Usage: watcher <command> [flags]

Commands:
  watch [-config json]   Watch favorites and send notifications
  login -email address   Log in to an account, creating it if needed
  config                 Open the accounts file in $EDITOR
  config-path            Print the location of the accounts file
  config-reset           Replace the accounts file with the defaults
`

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "watch":
		err = runWatch(ctx, cfg, log, args)
	case "login":
		err = runLogin(ctx, cfg, log, args)
	case "config":
		err = runEditConfig(ctx, cfg, log)
	case "config-path":
		fmt.Println(cfg.ConfigPath)
	case "config-reset":
		err = config.NewStore(cfg.ConfigPath, log).Reset()
		if err == nil {
			fmt.Printf("Reset %s\n", cfg.ConfigPath)
		}
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n%s", cmd, usage)
		os.Exit(1)
	}

	if err != nil {
		log.Error(cmd, "error", err)
		os.Exit(1)
	}
}

func runWatch(ctx context.Context, cfg *config.Config, log *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	override := fs.String("config", "", "JSON document merged over the accounts file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	accounts, err := loadAccounts(cfg, log)
	if err != nil {
		return err
	}
	if *override != "" {
		if err := accounts.Merge([]byte(*override)); err != nil {
			return err
		}
	}
	if len(accounts.Accounts()) == 0 {
		return errors.New("no accounts configured: run the login command first")
	}

	store, err := openStorage(cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	apiSettings := accounts.API()
	client := api.New(api.NewHTTPClient(), apiSettings.BaseURL, apiSettings.Headers)
	sessions := session.New(store, client, log)

	gates := gate.NewRegistry()
	gates.Sync(accounts.Accounts())

	telegram := bot.NewChannel()
	webhooks := notify.NewHTTPClient()
	dispatcher := notify.NewDispatcher(log,
		notify.NewConsole(os.Stdout),
		notify.NewDesktop(),
		&notify.Email{},
		notify.NewIFTTT(webhooks),
		notify.NewGotify(webhooks),
		notify.NewNtfy(webhooks),
		telegram,
	)

	sched := scheduler.New(accounts, sessions, client, detector.New(store, log), dispatcher, gates, log)

	var wg sync.WaitGroup
	defer wg.Wait()
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	bots := newBotStarter(accounts.Accounts, func(acct model.Account) error {
		b, err := bot.New(acct.Notifications.Telegram.BotToken, acct.ID, accounts, sessions, store, gates.Gate(acct.ID), log)
		if err != nil {
			return err
		}
		b.OnLogin(sched.RefreshNow)
		telegram.Register(b)

		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Run(ctx)
		}()
		log.Info("telegram bot started", "account_id", acct.ID)
		return nil
	})
	if err := bots.sync(); err != nil {
		return err
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := accounts.Watch(ctx); err != nil {
			log.Error("watch config", "error", err)
		}
	}()
	go func() {
		defer wg.Done()
		updates := accounts.Subscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case <-updates:
				gates.Sync(accounts.Accounts())
				if err := bots.sync(); err != nil {
					log.Error("start telegram bot", "error", err)
				}
			}
		}
	}()

	log.Info("starting watcher", "accounts", len(accounts.Accounts()), "config", accounts.Path())

	sched.Run(ctx)

	waitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := dispatcher.Wait(waitCtx); err != nil {
		log.Warn("pending notifications dropped", "error", err)
	}

	log.Info("watcher stopped")
	return nil
}

// botStarter runs one telegram bot per account with telegram enabled and a
// bot token, including accounts that gain one while watching.
type botStarter struct {
	accounts func() []model.Account
	start    func(acct model.Account) error
	started  map[string]bool
}

func newBotStarter(accounts func() []model.Account, start func(acct model.Account) error) *botStarter {
	return &botStarter{accounts: accounts, start: start, started: make(map[string]bool)}
}

func (s *botStarter) sync() error {
	var errs []error
	for _, acct := range s.accounts() {
		tg := acct.Notifications.Telegram
		if s.started[acct.ID] || !tg.Enabled || tg.BotToken == "" {
			continue
		}
		if err := s.start(acct); err != nil {
			errs = append(errs, fmt.Errorf("create bot for %s: %w", acct.Email, err))
			continue
		}
		s.started[acct.ID] = true
	}
	return errors.Join(errs...)
}

func runLogin(ctx context.Context, cfg *config.Config, log *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	email := fs.String("email", "", "email address of the account")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" {
		return errors.New("login: -email is required")
	}

	accounts, err := loadAccounts(cfg, log)
	if err != nil {
		return err
	}
	acct, err := accounts.AddAccount(*email)
	if err != nil {
		return err
	}

	store, err := openStorage(cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	apiSettings := accounts.API()
	client := api.New(api.NewHTTPClient(), apiSettings.BaseURL, apiSettings.Headers)

	confirm := func(ctx context.Context) error {
		fmt.Printf(`The login email should be in your inbox (%s).
Open the email on your PC and click the link.
Don't open the email on a phone that has the TooGoodToGo app installed. That won't work.
Press Enter after you clicked the link.
`, acct.Email)
		return waitForEnter(ctx, os.Stdin)
	}

	if _, err := session.New(store, client, log).Login(ctx, acct, confirm); err != nil {
		return err
	}
	fmt.Printf("Logged in as %s (account %s)\n", acct.Email, acct.ID)
	return nil
}

func runEditConfig(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	accounts, err := loadAccounts(cfg, log)
	if err != nil {
		return err
	}
	if _, err := os.Stat(accounts.Path()); errors.Is(err, os.ErrNotExist) {
		if err := accounts.Save(); err != nil {
			return err
		}
	}

	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = "vi"
		if runtime.GOOS == "windows" {
			editor = "notepad"
		}
	}
	parts := strings.Fields(editor)
	cmd := exec.CommandContext(ctx, parts[0], append(parts[1:], accounts.Path())...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("run editor: %w", err)
	}

	// Validate the edit so mistakes surface now instead of at the next watch.
	if err := accounts.Load(); err != nil {
		return err
	}
	return nil
}

func loadAccounts(cfg *config.Config, log *slog.Logger) (*config.Store, error) {
	accounts := config.NewStore(cfg.ConfigPath, log)
	if err := accounts.Load(); err != nil {
		return nil, err
	}
	return accounts, nil
}

func openStorage(cfg *config.Config, log *slog.Logger) (*storage.SQLite, error) {
	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create data directory %s: %w", dir, err)
		}
	}
	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.DatabasePath, err)
	}
	log.Debug("database opened", "path", cfg.DatabasePath)
	return store, nil
}

func waitForEnter(ctx context.Context, r io.Reader) error {
	done := make(chan error, 1)
	go func() {
		_, err := bufio.NewReader(r).ReadString('\n')
		done <- err
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
