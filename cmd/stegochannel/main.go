// Package main provides the CLI entry point for the StegoChannel client.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/quietpost/stegochannel/internal/beacon"
	"github.com/quietpost/stegochannel/internal/channel"
	"github.com/quietpost/stegochannel/internal/config"
	"github.com/quietpost/stegochannel/internal/logging"
	"github.com/quietpost/stegochannel/internal/metrics"
	"github.com/quietpost/stegochannel/internal/post"
	"github.com/quietpost/stegochannel/internal/receiver"
	"github.com/quietpost/stegochannel/internal/recovery"
	"github.com/quietpost/stegochannel/internal/sender"
	"github.com/quietpost/stegochannel/internal/store"
	"github.com/quietpost/stegochannel/internal/sysinfo"
	"github.com/quietpost/stegochannel/internal/wizard"
)

var (
	// Version is set at build time via ldflags. When "dev", sysinfo
	// provides enhanced version info from the Go build system.
	Version = "dev"
)

func init() {
	if Version == "dev" {
		Version = sysinfo.Version
	} else {
		sysinfo.Version = Version
	}
}

var (
	flagConfig   string
	flagDataDir  string
	flagLogLevel string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "stegochannel",
		Short: "StegoChannel - covert messaging through post selection",
		Long: `StegoChannel hides short messages in the selection of public posts
rather than in their content. Two parties sharing a channel key agree,
post by post, on which posts carry hidden bits and what those bits are;
to everyone else the posts are indistinguishable from ordinary activity.`,
		Version: Version,
	}

	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to config file")
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "override data directory")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "override log level")

	rootCmd.AddGroup(&cobra.Group{ID: "start", Title: "Getting Started:"})
	rootCmd.AddGroup(&cobra.Group{ID: "channels", Title: "Channels:"})
	rootCmd.AddGroup(&cobra.Group{ID: "messaging", Title: "Messaging:"})

	for _, c := range []*cobra.Command{setupCmd()} {
		c.GroupID = "start"
		rootCmd.AddCommand(c)
	}
	for _, c := range []*cobra.Command{channelsCmd()} {
		c.GroupID = "channels"
		rootCmd.AddCommand(c)
	}
	for _, c := range []*cobra.Command{sendCmd(), planCmd(), confirmCmd(), cancelCmd(), statusCmd(), scanCmd()} {
		c.GroupID = "messaging"
		rootCmd.AddCommand(c)
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// env bundles the common dependencies a command needs.
type env struct {
	cfg     *config.Config
	st      *store.Store
	beacons *beacon.Cache
}

func buildEnv() (*env, error) {
	cfg := config.Default()
	if flagConfig != "" {
		loaded, err := config.Load(flagConfig)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if flagDataDir != "" {
		cfg.App.DataDir = flagDataDir
	}
	if flagLogLevel != "" {
		cfg.App.LogLevel = flagLogLevel
	}

	logger := logging.NewLogger(cfg.App.LogLevel, cfg.App.LogFormat)

	st, err := store.Open(cfg.App.DataDir, logger)
	if err != nil {
		return nil, err
	}

	client := &http.Client{Timeout: cfg.Beacon.FetchTimeout()}
	beacons := beacon.NewCache(logger,
		&beacon.BTCFetcher{BaseURL: cfg.Beacon.BTCBaseURL, Client: client},
		&beacon.NISTFetcher{BaseURL: cfg.Beacon.NISTBaseURL, Client: client},
		&beacon.DateFetcher{},
	)

	return &env{cfg: cfg, st: st, beacons: beacons}, nil
}

// resolveChannel finds a stored channel by ID prefix or label.
func (e *env) resolveChannel(ref string) (*channel.Channel, error) {
	channels, err := e.st.LoadChannels()
	if err != nil {
		return nil, err
	}

	var matches []*channel.Channel
	for _, c := range channels {
		if strings.HasPrefix(c.ID.String(), ref) || c.Label == ref {
			matches = append(matches, c)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("no channel matches %q", ref)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("%q is ambiguous: %d channels match", ref, len(matches))
	}
}

func setupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Create or import a channel interactively",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := buildEnv()
			if err != nil {
				return err
			}

			result, err := wizard.New().Run()
			if err != nil {
				return err
			}
			if err := e.st.SaveChannel(result.Channel); err != nil {
				return err
			}
			fmt.Printf("Saved channel %s\n", result.Channel.ID.ShortString())
			return nil
		},
	}
}

func channelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channels",
		Short: "Manage stored channels",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored channels",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := buildEnv()
			if err != nil {
				return err
			}
			channels, err := e.st.LoadChannels()
			if err != nil {
				return err
			}
			if len(channels) == 0 {
				fmt.Println("No channels. Run 'stegochannel setup' to create one.")
				return nil
			}
			for _, c := range channels {
				label := c.Label
				if label == "" {
					label = "(unlabeled)"
				}
				fmt.Printf("%s  %-20s beacon=%-4s rate=%s features=%s created %s\n",
					c.ID.ShortString(), label, c.Beacon,
					channel.FormatRate(c.SelectionRate), c.Features,
					humanize.Time(c.CreatedAt))
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "import <channel-string>",
		Short: "Import a counterparty's channel string",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := buildEnv()
			if err != nil {
				return err
			}
			c, err := channel.Import(args[0])
			if err != nil {
				return err
			}
			if err := e.st.SaveChannel(c); err != nil {
				return err
			}
			fmt.Printf("Imported channel %s (beacon=%s rate=%s features=%s)\n",
				c.ID.ShortString(), c.Beacon, channel.FormatRate(c.SelectionRate), c.Features)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "export <channel>",
		Short: "Print a channel's export string",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := buildEnv()
			if err != nil {
				return err
			}
			c, err := e.resolveChannel(args[0])
			if err != nil {
				return err
			}
			fmt.Println(c.ExportString())
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <channel>",
		Short: "Delete a channel and its state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := buildEnv()
			if err != nil {
				return err
			}
			c, err := e.resolveChannel(args[0])
			if err != nil {
				return err
			}
			if err := e.st.DeleteChannel(c.ID); err != nil {
				return err
			}
			fmt.Printf("Deleted channel %s\n", c.ID.ShortString())
			return nil
		},
	})

	return cmd
}

func sendCmd() *cobra.Command {
	var encrypt bool
	cmd := &cobra.Command{
		Use:   "send <channel> <message>",
		Short: "Enqueue a message for transmission",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := buildEnv()
			if err != nil {
				return err
			}
			c, err := e.resolveChannel(args[0])
			if err != nil {
				return err
			}
			p, err := sender.New(c, e.st, e.beacons, nil, metrics.Default())
			if err != nil {
				return err
			}
			if err := p.Enqueue(cmd.Context(), []byte(args[1]), encrypt); err != nil {
				return err
			}

			progress, _ := p.Progress()
			fmt.Printf("Enqueued %d bits under epoch %s (expires %s)\n",
				progress.BitsTotal, progress.EpochID, humanize.Time(progress.EpochExpiresAt))
			fmt.Println("Run 'stegochannel plan' for each draft post before publishing it.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&encrypt, "encrypt", false, "encrypt the payload in addition to authenticating it")
	return cmd
}

func draftFlags(cmd *cobra.Command, postID, text *string, media *bool) {
	cmd.Flags().StringVar(postID, "post-id", "", "candidate post id")
	cmd.Flags().StringVar(text, "text", "", "draft post text")
	cmd.Flags().BoolVar(media, "media", false, "draft post has a media attachment")
	_ = cmd.MarkFlagRequired("post-id")
}

func planCmd() *cobra.Command {
	var postID, text string
	var media bool
	cmd := &cobra.Command{
		Use:   "plan <channel>",
		Short: "Evaluate a draft post against the in-flight message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := buildEnv()
			if err != nil {
				return err
			}
			c, err := e.resolveChannel(args[0])
			if err != nil {
				return err
			}
			p, err := sender.New(c, e.st, e.beacons, nil, metrics.Default())
			if err != nil {
				return err
			}

			d, err := p.Plan(cmd.Context(), sender.Draft{PostID: postID, Text: text, HasMedia: media})
			if err != nil {
				return err
			}
			switch {
			case d.Role == sender.RoleCover:
				fmt.Println("cover: publish freely, this post carries nothing")
			case d.PublishAsIs:
				fmt.Println("signal: publish as-is, then run 'stegochannel confirm'")
			default:
				fmt.Println("signal: edit before publishing:")
				for _, s := range d.Suggestions {
					fmt.Printf("  - %s\n", s.Label)
				}
			}
			return nil
		},
	}
	draftFlags(cmd, &postID, &text, &media)
	return cmd
}

func confirmCmd() *cobra.Command {
	var postID, text string
	var media bool
	cmd := &cobra.Command{
		Use:   "confirm <channel>",
		Short: "Record that the planned signal post was published",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := buildEnv()
			if err != nil {
				return err
			}
			c, err := e.resolveChannel(args[0])
			if err != nil {
				return err
			}
			p, err := sender.New(c, e.st, e.beacons, nil, metrics.Default())
			if err != nil {
				return err
			}

			// The CLI is stateless between invocations, so re-plan the
			// published content before confirming it.
			draft := sender.Draft{PostID: postID, Text: text, HasMedia: media}
			d, err := p.Plan(cmd.Context(), draft)
			if err != nil {
				return err
			}
			if d.Role != sender.RoleSignal || !d.PublishAsIs {
				return fmt.Errorf("post %s does not carry the next bits; run 'stegochannel plan' first", postID)
			}

			done, err := p.Confirm(cmd.Context(), draft)
			if err != nil {
				return err
			}
			if done {
				fmt.Println("Transmission complete.")
				return nil
			}
			progress, _ := p.Progress()
			fmt.Printf("Confirmed: %d/%d bits sent across %d signal posts\n",
				progress.BitsSent, progress.BitsTotal, progress.SignalPostsUsed)
			return nil
		},
	}
	draftFlags(cmd, &postID, &text, &media)
	return cmd
}

func cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <channel>",
		Short: "Cancel the in-flight transmission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := buildEnv()
			if err != nil {
				return err
			}
			c, err := e.resolveChannel(args[0])
			if err != nil {
				return err
			}
			p, err := sender.New(c, e.st, e.beacons, nil, metrics.Default())
			if err != nil {
				return err
			}
			if err := p.Cancel(); err != nil {
				return err
			}
			fmt.Println("Transmission cancelled.")
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <channel>",
		Short: "Show transmission progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := buildEnv()
			if err != nil {
				return err
			}
			c, err := e.resolveChannel(args[0])
			if err != nil {
				return err
			}
			p, err := sender.New(c, e.st, e.beacons, nil, nil)
			if err != nil {
				return err
			}

			progress, ok := p.Progress()
			if !ok {
				fmt.Println("No transmission in flight.")
				return nil
			}
			fmt.Printf("State:        %s\n", progress.State)
			fmt.Printf("Progress:     %d/%d bits over %d signal posts\n",
				progress.BitsSent, progress.BitsTotal, progress.SignalPostsUsed)
			fmt.Printf("Epoch:        %s (expires %s)\n",
				progress.EpochID, humanize.Time(progress.EpochExpiresAt))
			if progress.GraceActive {
				fmt.Println("Grace window: active; finish soon or the frame restarts")
			}
			return nil
		},
	}
}

func scanCmd() *cobra.Command {
	var (
		postsFile string
		limit     int
		watch     bool
		interval  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "scan <channel>",
		Short: "Scan the peer's posts for hidden messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := buildEnv()
			if err != nil {
				return err
			}
			c, err := e.resolveChannel(args[0])
			if err != nil {
				return err
			}

			logger := logging.NewLogger(e.cfg.App.LogLevel, e.cfg.App.LogFormat)
			m := metrics.Default()
			r := receiver.New(c, e.st, e.beacons, logger, m)

			file := postsFile
			if file == "" {
				file = e.cfg.Posts.File
			}
			if file == "" {
				return errors.New("no post source: pass --posts or set posts.file in the config")
			}
			src := &post.FileSource{Path: file}

			if e.cfg.Metrics.Enabled {
				go func() {
					defer recovery.RecoverWithLog(logger, "metricsServer")
					http.Handle("/metrics", promhttp.Handler())
					if err := http.ListenAndServe(e.cfg.Metrics.Listen, nil); err != nil {
						logger.Error("metrics server stopped", logging.KeyError, err)
					}
				}()
			}

			scanOnce := func(ctx context.Context) error {
				posts, err := src.Fetch(ctx, c.PeerSource, limit)
				if err != nil {
					return err
				}
				decoded, diags, err := r.Scan(ctx, posts)
				for _, d := range decoded {
					fmt.Printf("message seq=%d epoch=%s posts=%d ec=%d: %q\n",
						d.Seq, d.EpochID, len(d.ContributingPosts), d.ECCorrections, d.Payload)
				}
				for _, g := range diags {
					fmt.Printf("diagnostic %s epoch=%s\n", g.Kind, g.EpochID)
				}
				return err
			}

			if !watch {
				return scanOnce(cmd.Context())
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				if err := scanOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Warn("scan pass failed", logging.KeyError, err)
				}
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
			}
		},
	}
	cmd.Flags().StringVar(&postsFile, "posts", "", "JSON file of peer posts (overrides config)")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum posts to fetch per pass")
	cmd.Flags().BoolVar(&watch, "watch", false, "keep scanning on an interval")
	cmd.Flags().DurationVar(&interval, "interval", time.Minute, "scan interval with --watch")
	return cmd
}
