package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/leshchenko/tgpool/internal/account"
	"github.com/leshchenko/tgpool/internal/blobstore"
	"github.com/leshchenko/tgpool/internal/chatcache"
	"github.com/leshchenko/tgpool/internal/config"
	"github.com/leshchenko/tgpool/internal/database"
	"github.com/leshchenko/tgpool/internal/pool"
	"github.com/leshchenko/tgpool/internal/rpcclient"
	"github.com/leshchenko/tgpool/internal/scanner"
	"github.com/leshchenko/tgpool/internal/stats"
	"github.com/leshchenko/tgpool/internal/statsdb"
)

func newScanCmd() *cobra.Command {
	var (
		channels []string
		parallel bool
		depth    time.Duration
		save     bool
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one stats-collection pass over a set of channels",
		Long:  "Starts the account pool, scans the given channels, and prints a summary. Pass --save to also persist the result to the stats database.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, channels, parallel, depth, save)
		},
	}

	cmd.Flags().StringSliceVar(&channels, "channels", nil, "comma-separated channel usernames to scan")
	cmd.Flags().BoolVar(&parallel, "parallel", false, "scan channels concurrently")
	cmd.Flags().DurationVar(&depth, "depth", 0, "how far back to look (e.g. 720h); 0 means unbounded")
	cmd.Flags().BoolVar(&save, "save", false, "persist the result to the stats database")
	cmd.MarkFlagRequired("channels")
	return cmd
}

func runScan(cmd *cobra.Command, channels []string, parallel bool, depth time.Duration, save bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := connectBlobStore(cfg.Store)
	if err != nil {
		return fmt.Errorf("connect blob store: %w", err)
	}

	accounts, err := connectAccounts(store, cfg.Telegram)
	if err != nil {
		return fmt.Errorf("build account roster: %w", err)
	}

	p, err := pool.New(accounts, store, pool.InvalidPolicy(cfg.Telegram.InvalidPolicy), pool.Options{
		MaxWait: time.Duration(cfg.Telegram.MaxAccWaitingTime) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("construct pool: %w", err)
	}

	sc := scanner.New(p, chatcache.New(store))
	collector := stats.New(sc, nil)
	collector.Depth = depth

	out := cmd.OutOrStdout()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var result stats.Result
	err = sc.Session(ctx, nil, func(ctx context.Context) error {
		var err error
		result, err = collector.CollectAllStats(ctx, channels, parallel, nil)
		return err
	})
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}

	fmt.Fprintf(out, "scanned %d channel(s), %d message(s)\n", len(result.Channels), len(result.Msgs))
	for _, ch := range result.Channels {
		fmt.Fprintf(out, "  %s: %d subscribers, %d mean reach\n", ch.Username, ch.Subscribers, ch.Reach)
	}

	if !save {
		return nil
	}

	db, err := database.Connect(cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("connect stats database: %w", err)
	}
	defer db.Close()

	statsStore := statsdb.New(db, statsdb.Config{
		ChannelsTable: cfg.Database.ChannelsTable,
		StatsTable:    cfg.Database.StatsTable,
		MsgsTable:     cfg.Database.MsgsTable,
	})
	if err := statsStore.SaveNewStats(ctx, result.Channels); err != nil {
		return fmt.Errorf("save channel stats: %w", err)
	}
	if err := statsStore.SaveMsgs(ctx, result.Msgs); err != nil {
		return fmt.Errorf("save messages: %w", err)
	}
	fmt.Fprintln(out, "saved to stats database")
	return nil
}

// connectBlobStore is the CLI's counterpart of cmd/api's newBlobStore, limited
// to the local driver (redis is rejected); duplicated rather than shared since
// the two commands live in separate main packages.
func connectBlobStore(cfg config.StoreConfig) (blobstore.Store, error) {
	if cfg.Driver == "redis" {
		return nil, fmt.Errorf("tgpoolctl: redis blob store not supported from the CLI yet, use local")
	}
	return blobstore.NewLocal(cfg.LocalDir)
}

func connectAccounts(store blobstore.Store, cfg config.TelegramConfig) (map[string]*account.Account, error) {
	phones := cfg.Phones
	if len(phones) == 0 {
		keys, err := store.Glob(context.Background(), "*.session")
		if err != nil {
			return nil, fmt.Errorf("discovering session files: %w", err)
		}
		for _, key := range keys {
			phones = append(phones, key[:len(key)-len(".session")])
		}
	}

	accCfg := account.Config{APIID: cfg.APIID, APIHash: cfg.APIHash}
	accounts := make(map[string]*account.Account, len(phones))
	for _, phone := range phones {
		accounts[phone] = account.New(store, rpcclient.NotConfiguredFactory{}, accCfg, phone)
	}
	return accounts, nil
}
