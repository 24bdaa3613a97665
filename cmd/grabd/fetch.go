package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/grabd/grabd/internal/domain"
	"github.com/grabd/grabd/internal/executor"
	"github.com/grabd/grabd/internal/fileutil"
	"github.com/grabd/grabd/internal/infra/logger"
	"github.com/grabd/grabd/internal/resolver"
	"github.com/spf13/cobra"
)

var (
	fetchVariant string
	fetchList    bool
	fetchOutDir  string
)

var fetchCmd = &cobra.Command{
	Use:   "fetch URL",
	Short: "Download a single URL without starting the daemon",
	Args:  cobra.ExactArgs(1),
	RunE:  runFetch,
}

func init() {
	fetchCmd.Flags().StringVar(&fetchVariant, "variant", "", "variant id to download (default: best)")
	fetchCmd.Flags().BoolVar(&fetchList, "list", false, "list variants and exit")
	fetchCmd.Flags().StringVarP(&fetchOutDir, "output", "o", "", "output directory (default: download.dir)")
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if fetchOutDir != "" {
		cfg.Download.Dir = fetchOutDir
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res := resolver.NewDirect(cfg.Download.CookiesFile)

	title, variants, err := res.Resolve(ctx, args[0])
	if err != nil {
		return fmt.Errorf("resolve: %w", err)
	}
	domain.SortVariants(variants)

	if fetchList {
		fmt.Printf("%s\n", title)
		for _, v := range variants {
			fmt.Printf("  %-12s %s\n", v.ID, v.DisplayText())
		}
		return nil
	}

	variant := variants[0]
	if fetchVariant != "" {
		found := false
		for _, v := range variants {
			if v.ID == fetchVariant {
				variant, found = v, true
				break
			}
		}
		if !found {
			return fmt.Errorf("no variant with id %q", fetchVariant)
		}
	}

	name := fileutil.SanitizeFilename(title)
	if variant.Container != "" {
		name += "." + variant.Container
	}
	dest := filepath.Join(cfg.Download.Dir, name)

	stream, total, err := res.Open(ctx, args[0], variant)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}

	var prog domain.Progress
	exec := &executor.Executor{
		TempSuffix:       cfg.Download.TempSuffix,
		ProgressInterval: 250 * time.Millisecond,
		IdleTimeout:      cfg.Queue.IdleTimeout,
		Logger:           logger.NewDiscard(),
		OnSample:         renderCLIProgress,
	}

	fmt.Printf("Downloading %s\n", title)
	started := time.Now()
	finalPath, err := exec.Run(ctx, stream, total, dest, &prog, 0)
	if err != nil {
		fmt.Println()
		return fmt.Errorf("download failed: %w", err)
	}

	snap := prog.Snapshot(0)
	fmt.Printf("\nDone: %s (%s in %s)\n",
		finalPath, fileutil.HumanBytes(float64(snap.BytesDone)), time.Since(started).Truncate(time.Second))
	return nil
}

// renderCLIProgress redraws one status line per sample:
// [====>    ]  42.0% | 1.3 MB/s | ETA: 1m 05s | 12.5 MB/29.8 MB
func renderCLIProgress(snap domain.ProgressSnapshot) {
	const barWidth = 20

	speed := fileutil.HumanBytes(snap.Speed) + "/s"
	done := fileutil.HumanBytes(float64(snap.BytesDone))

	if snap.TotalBytes <= 0 {
		fmt.Printf("\r[%s] %s | %s      ", strings.Repeat("?", barWidth), done, speed)
		return
	}

	percent := snap.Percent()
	completedWidth := int(percent / 100 * barWidth)
	if completedWidth > barWidth {
		completedWidth = barWidth
	}
	bar := strings.Repeat("=", completedWidth)
	if completedWidth < barWidth {
		bar += ">" + strings.Repeat(" ", barWidth-completedWidth-1)
	}

	eta := "calc..."
	if snap.ETA >= 0 {
		eta = fileutil.HumanETA(snap.ETA)
	}

	fmt.Printf("\r[%s] %5.1f%% | %s | ETA: %-8s | %s/%s      ",
		bar, percent, speed, eta, done, fileutil.HumanBytes(float64(snap.TotalBytes)))
}
