package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ChuLiYu/workhorse/internal/capabilities"
	"github.com/ChuLiYu/workhorse/internal/cli"
	"github.com/ChuLiYu/workhorse/internal/hardware"
	"github.com/ChuLiYu/workhorse/internal/logging"
	"github.com/ChuLiYu/workhorse/internal/queue"
	"github.com/ChuLiYu/workhorse/internal/scheduler"
	"github.com/ChuLiYu/workhorse/internal/task"
	"github.com/ChuLiYu/workhorse/internal/tasks"
)

var plates = []string{"ABC-1234", "XY999", "KLM-0042", "QRS-777", "DE1234"}

func main() {
	frames := 200
	if len(os.Args) > 1 {
		if _, err := fmt.Sscanf(os.Args[1], "%d", &frames); err != nil {
			fmt.Println("Usage: go run ./cmd/demo [frames]")
			os.Exit(1)
		}
	}

	cfg, err := cli.LoadConfig("configs/default.yaml")
	if err != nil {
		log.Printf("Using built-in defaults: %v", err)
		cfg = cli.DefaultConfig()
	}
	cfg.Scheduler.StopWhenIdle = true

	logger := logging.NewWithWriter(logging.LevelWarn, "text", os.Stderr)

	reg := hardware.Default
	if err := capabilities.RegisterBuiltins(reg, capabilities.WithDetector(cfg.DetectorConfig())); err != nil {
		log.Fatalf("Failed to register capabilities: %v", err)
	}

	q := queue.NewFromRegistry(reg, queue.WithLogger(logger))
	sched, err := scheduler.New(cfg.SchedulerConfig(), reg, logger)
	if err != nil {
		log.Fatalf("Failed to create scheduler: %v", err)
	}

	dir, err := os.MkdirTemp("", "workhorse-demo-")
	if err != nil {
		log.Fatalf("Failed to create work dir: %v", err)
	}
	input := filepath.Join(dir, "frames.txt")
	output := filepath.Join(dir, "plates.tsv")
	if err := writeFrames(input, frames); err != nil {
		log.Fatalf("Failed to write frames: %v", err)
	}

	for _, t := range []task.Task{
		tasks.NewSplitFile(input, output),
		tasks.NewTestCPU(0),
		tasks.NewTestCPU(0),
	} {
		if err := q.AddTask(t); err != nil {
			log.Fatalf("Failed to enqueue: %v", err)
		}
	}
	fmt.Printf("✓ Enqueued pipeline over %d frames (work dir %s)\n", frames, dir)
	fmt.Printf("💡 Press Ctrl+C to quit early; claimed tasks still finish\n\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx, q) }()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	start := time.Now()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-sigChan:
			fmt.Println("\n\nReceived shutdown signal, quitting...")
			sched.Quit()
		case err := <-done:
			if err != nil {
				log.Printf("Scheduler returned: %v", err)
			}
			break loop
		case <-ticker.C:
			counts := q.GetTaskCounts()
			fmt.Printf("📊 CPU=%-4d GPU=%-4d in-flight=%d\n",
				counts[tasks.CapCPU], counts[tasks.CapGPU], q.GetInProgressTasks())
		}
	}
	sched.Stop()

	var processed, failed uint64
	for _, st := range sched.WorkerStatuses() {
		processed += st.Processed
		failed += st.Failed
	}
	fmt.Printf("\n✓ %d tasks processed (%d failed) in %s\n", processed, failed, time.Since(start).Round(time.Millisecond))
	fmt.Printf("  Results: %s\n", output)
}

func writeFrames(path string, n int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	for i := 0; i < n; i++ {
		line := fmt.Sprintf("frame %04d: empty road", i)
		if i%3 == 0 {
			line = fmt.Sprintf("frame %04d: car %s at gate", i, plates[i%len(plates)])
		}
		if _, err := fmt.Fprintln(f, line); err != nil {
			return err
		}
	}
	return nil
}
