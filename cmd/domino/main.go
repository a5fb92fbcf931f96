package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Julesc013/dominium-sub002/core"
	"github.com/Julesc013/dominium-sub002/netinput"
)

func main() {
	rootCmd := &cobra.Command{Use: "domino", Short: "Drive the Domino simulation engine outside the product layer"}
	rootCmd.AddCommand(tickCmd())
	rootCmd.AddCommand(saveCmd())
	rootCmd.AddCommand(loadCmd())
	rootCmd.AddCommand(inspectCmd())
	rootCmd.AddCommand(recordCmd())
	rootCmd.AddCommand(playCmd())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newEngineWithPacks(packPaths []string) (*core.Engine, error) {
	e, err := core.NewEngine()
	if err != nil {
		return nil, fmt.Errorf("domino: new engine: %w", err)
	}
	if len(packPaths) == 0 {
		return e, nil
	}
	streams := make([][]byte, 0, len(packPaths))
	for _, p := range packPaths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("domino: read pack %s: %w", p, err)
		}
		streams = append(streams, data)
	}
	if err := e.LoadPacks(streams...); err != nil {
		return nil, fmt.Errorf("domino: load packs: %w", err)
	}
	return e, nil
}

func loadOrCreateWorld(e *core.Engine, loadPath string, seed uint64) (*core.World, error) {
	if loadPath == "" {
		return e.CreateWorld(seed)
	}
	data, err := os.ReadFile(loadPath)
	if err != nil {
		return nil, fmt.Errorf("domino: read world %s: %w", loadPath, err)
	}
	return e.LoadWorld(seed, data)
}

func tickCmd() *cobra.Command {
	var (
		seed      uint64
		loadPath  string
		savePath  string
		packPaths []string
		ticks     uint32
	)
	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Advance a world by N ticks and optionally save it",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEngineWithPacks(packPaths)
			if err != nil {
				return err
			}
			w, err := loadOrCreateWorld(e, loadPath, seed)
			if err != nil {
				return err
			}
			if err := e.Advance(w, ticks); err != nil {
				return fmt.Errorf("domino: tick: %w", err)
			}
			fmt.Printf("tick=%d\n", w.Tick())
			if savePath == "" {
				return nil
			}
			data, err := e.SaveWorld(w)
			if err != nil {
				return fmt.Errorf("domino: save world: %w", err)
			}
			return os.WriteFile(savePath, data, 0o644)
		},
	}
	cmd.Flags().Uint64Var(&seed, "seed", 1, "world seed, used when --load is empty")
	cmd.Flags().StringVar(&loadPath, "load", "", "path to an existing world blob to resume")
	cmd.Flags().StringVar(&savePath, "save", "", "path to write the world blob after ticking")
	cmd.Flags().StringArrayVar(&packPaths, "pack", nil, "content pack file to load before ticking (repeatable, later overrides earlier)")
	cmd.Flags().Uint32Var(&ticks, "ticks", 1, "number of ticks to advance")
	return cmd
}

func saveCmd() *cobra.Command {
	var loadPath, outPath string
	var seed uint64
	cmd := &cobra.Command{
		Use:   "save",
		Short: "Load a world and re-serialize it to --out",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := core.NewEngine()
			if err != nil {
				return err
			}
			w, err := loadOrCreateWorld(e, loadPath, seed)
			if err != nil {
				return err
			}
			data, err := e.SaveWorld(w)
			if err != nil {
				return fmt.Errorf("domino: save: %w", err)
			}
			return os.WriteFile(outPath, data, 0o644)
		},
	}
	cmd.Flags().StringVar(&loadPath, "load", "", "path to an existing world blob")
	cmd.Flags().Uint64Var(&seed, "seed", 1, "world seed, used when --load is empty")
	cmd.Flags().StringVar(&outPath, "out", "world.bin", "output path")
	return cmd
}

func loadCmd() *cobra.Command {
	var loadPath string
	var seed uint64
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load a world blob and print its tick counter",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := core.NewEngine()
			if err != nil {
				return err
			}
			w, err := loadOrCreateWorld(e, loadPath, seed)
			if err != nil {
				return err
			}
			fmt.Printf("tick=%d chunks=%d\n", w.Tick(), w.ChunkCount())
			return nil
		},
	}
	cmd.Flags().StringVar(&loadPath, "load", "", "path to an existing world blob")
	cmd.Flags().Uint64Var(&seed, "seed", 1, "world seed, used when --load is empty")
	return cmd
}

type inspectReport struct {
	Tick       uint64 `json:"tick"`
	Chunks     int    `json:"chunks"`
	Jobs       int    `json:"jobs"`
	Agents     int    `json:"agents"`
	Orgs       int    `json:"orgs"`
	Structures int    `json:"structures"`
}

func inspectCmd() *cobra.Command {
	var loadPath string
	var seed uint64
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print a JSON summary of a world's query-iterator surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := core.NewEngine()
			if err != nil {
				return err
			}
			w, err := loadOrCreateWorld(e, loadPath, seed)
			if err != nil {
				return err
			}
			report := inspectReport{
				Tick:       w.Tick(),
				Chunks:     w.ChunkCount(),
				Jobs:       e.Job.JobCount(w),
				Agents:     e.Job.AgentCount(w),
				Orgs:       e.OrgAccount.OrgCount(w),
				Structures: e.Structure.Count(w),
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
	cmd.Flags().StringVar(&loadPath, "load", "", "path to an existing world blob")
	cmd.Flags().Uint64Var(&seed, "seed", 1, "world seed, used when --load is empty")
	return cmd
}

func recordCmd() *cobra.Command {
	var listenAddr, topic, outPath string
	var duration time.Duration
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record player input frames from a pubsub topic into a replay blob",
		RunE: func(cmd *cobra.Command, args []string) error {
			replay := core.NewReplaySubsystem()
			replay.StartRecording()

			ctx, cancel := context.WithTimeout(context.Background(), duration)
			defer cancel()

			ing, err := netinput.NewIngestor(ctx, listenAddr, topic, replay)
			if err != nil {
				return fmt.Errorf("domino: record: %w", err)
			}
			defer ing.Close()

			go ing.Start()
			<-ctx.Done()
			ing.Close()

			return os.WriteFile(outPath, replay.Serialize(), 0o644)
		},
	}
	cmd.Flags().StringVar(&listenAddr, "listen", "/ip4/0.0.0.0/tcp/0", "libp2p listen multiaddr")
	cmd.Flags().StringVar(&topic, "topic", "domino-input", "pubsub topic to subscribe to")
	cmd.Flags().StringVar(&outPath, "out", "replay.bin", "output replay blob path")
	cmd.Flags().DurationVar(&duration, "duration", 30*time.Second, "how long to record")
	return cmd
}

func playCmd() *cobra.Command {
	var inPath string
	var ticks uint32
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Replay a recorded input blob tick by tick, printing each frame",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(inPath)
			if err != nil {
				return fmt.Errorf("domino: play: %w", err)
			}
			replay := core.NewReplaySubsystem()
			if err := replay.Deserialize(data); err != nil {
				return fmt.Errorf("domino: play: %w", err)
			}
			enc := json.NewEncoder(os.Stdout)
			for tick := uint64(0); tick < uint64(ticks); tick++ {
				frame, ok := replay.FrameAt(tick)
				if !ok {
					continue
				}
				if err := enc.Encode(frame); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&inPath, "in", "replay.bin", "replay blob path")
	cmd.Flags().Uint32Var(&ticks, "ticks", 0, "number of ticks to scan for recorded frames")
	return cmd
}
