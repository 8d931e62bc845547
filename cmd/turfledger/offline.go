package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/MarcoPoloResearchLab/turfledger/internal/config"
	"github.com/MarcoPoloResearchLab/turfledger/internal/logging"
	"github.com/MarcoPoloResearchLab/turfledger/internal/offline"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func newOfflineCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "offline",
		Short: "Stage application records on this device and replay them later",
	}
	defaults := config.NewViper()
	cmd.PersistentFlags().String("queue-path", defaults.GetString("offline.queue_path"), "Local queue database path")
	cmd.PersistentFlags().String("server-url", defaults.GetString("offline.server_url"), "API base URL for replay")
	cmd.PersistentFlags().String("session-token", "", "Session token used for replay (overrides env)")
	cmd.PersistentFlags().Int("retry-count", defaults.GetInt("offline.retry_count"), "Retries per submission on transport or server errors")
	bindFlag(cmd, "offline.queue_path", "queue-path")
	bindFlag(cmd, "offline.server_url", "server-url")
	bindFlag(cmd, "offline.session_token", "session-token")
	bindFlag(cmd, "offline.retry_count", "retry-count")

	cmd.AddCommand(newOfflineEnqueueCommand(), newOfflineListCommand(), newOfflineReplayCommand())
	return cmd
}

func openQueue() (config.OfflineConfig, *offline.Store, *zap.Logger, error) {
	cfg, err := config.LoadOffline(viper.GetViper())
	if err != nil {
		return config.OfflineConfig{}, nil, nil, err
	}
	logger, err := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return config.OfflineConfig{}, nil, nil, err
	}
	store, err := offline.OpenStore(cfg.QueuePath, logger)
	if err != nil {
		return config.OfflineConfig{}, nil, nil, err
	}
	return cfg, store, logger, nil
}

func newOfflineEnqueueCommand() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue an application record (JSON object) from a file or stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, logger, err := openQueue()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			var reader io.Reader = cmd.InOrStdin()
			if file != "" && file != "-" {
				handle, err := os.Open(file)
				if err != nil {
					return err
				}
				defer handle.Close()
				reader = handle
			}
			payload, err := io.ReadAll(reader)
			if err != nil {
				return err
			}
			pending, err := store.Enqueue(cmd.Context(), json.RawMessage(payload))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), pending.TempID)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "-", "JSON file to queue, - for stdin")
	return cmd
}

func newOfflineListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show queued submissions in replay order",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, logger, err := openQueue()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			pending, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(pending)
		},
	}
}

func newOfflineReplayCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "replay",
		Short: "Submit queued records to the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, logger, err := openQueue()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck
			if err := cfg.RequireServer(); err != nil {
				return err
			}

			submitter, err := offline.NewHTTPSubmitter(offline.HTTPSubmitterConfig{
				BaseURL:      cfg.ServerURL,
				SessionToken: cfg.SessionToken,
				Timeout:      cfg.RequestTimeout,
				RetryCount:   cfg.RetryCount,
			})
			if err != nil {
				return err
			}
			replayer, err := offline.NewReplayer(store, submitter, logger)
			if err != nil {
				return err
			}
			result, err := replayer.Replay(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "synced %d, failed %d, remaining %d\n", result.Synced, result.Failed, result.Remaining)
			return nil
		},
	}
}
