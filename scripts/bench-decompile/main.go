// bench-decompile measures heap memory around repeated in-process
// decompilation passes over one archive.
//
// Usage:
//
//	go run ./scripts/bench-decompile --input app.jar --runs 3 --incremental \
//	  --profile-dir docs/profiles/outline
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strings"

	"github.com/Sumatoshi-tech/srcforge/cmd/srcforge/commands"
	"github.com/Sumatoshi-tech/srcforge/pkg/decompiler"
	"github.com/Sumatoshi-tech/srcforge/pkg/incremental"
	"github.com/Sumatoshi-tech/srcforge/pkg/orchestrator"
	"github.com/Sumatoshi-tech/srcforge/pkg/progress"
	"github.com/Sumatoshi-tech/srcforge/pkg/snapshot"
)

type heapSnapshot struct {
	label     string
	heapInUse uint64
	heapSys   uint64
	heapIdle  uint64
	numGC     uint32
}

func main() {
	input := flag.String("input", "", "Compiled archive to decompile")
	runs := flag.Int("runs", 3, "Number of passes")
	name := flag.String("decompiler", "outline", "Decompiler name")
	threads := flag.Int("threads", 0, "Decompiler parallelism (0 = one per CPU)")
	incr := flag.Bool("incremental", false, "Run passes incrementally against a scratch snapshot")
	profileDir := flag.String("profile-dir", "", "Directory to write heap profiles")
	cpuProfile := flag.Bool("cpu-profile", false, "Write CPU profile to profile-dir/cpu.prof")

	flag.Parse()

	if *input == "" {
		log.Fatal("--input is required")
	}

	if *profileDir == "" {
		log.Fatal("--profile-dir is required")
	}

	if err := os.MkdirAll(*profileDir, 0o755); err != nil {
		log.Fatalf("mkdir profile-dir: %v", err)
	}

	if *cpuProfile {
		cpuPath := filepath.Join(*profileDir, "cpu.prof")

		cpuFile, cpuErr := os.Create(cpuPath)
		if cpuErr != nil {
			log.Fatalf("create cpu profile: %v", cpuErr)
		}
		defer cpuFile.Close()

		if startErr := pprof.StartCPUProfile(cpuFile); startErr != nil {
			log.Fatalf("start cpu profile: %v", startErr)
		}

		defer pprof.StopCPUProfile()

		log.Printf("CPU profiling enabled -> %s", cpuPath)
	}

	reg, err := commands.BuiltinRegistry()
	if err != nil {
		log.Fatalf("registry: %v", err)
	}

	work, err := os.MkdirTemp("", "bench-decompile-")
	if err != nil {
		log.Fatalf("scratch dir: %v", err)
	}
	defer os.RemoveAll(work)

	runtimeCopy := filepath.Join(work, "runtime.jar")

	cfg := orchestrator.Config{
		Isolation:  orchestrator.InProcess,
		Decompiler: *name,
		MaxThreads: *threads,
		Sources:    filepath.Join(work, "sources.jar"),
		Registry:   reg,
		Transport:  progress.DetectTransport(),
		Sink:       progress.DiscardSink{},
	}

	if *incr {
		cfg.Incremental = &incremental.Controller{
			Snapshots:   snapshot.NewManager(filepath.Join(work, "snapshots"), snapshot.KeyFor(*input)),
			Fingerprint: decompiler.Fingerprint(*name, nil),
		}
	}

	var snapshots []heapSnapshot

	takeSnapshot := func(label string) {
		runtime.GC()
		runtime.GC()

		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		snapshots = append(snapshots, heapSnapshot{
			label:     label,
			heapInUse: m.HeapInuse,
			heapSys:   m.HeapSys,
			heapIdle:  m.HeapIdle,
			numGC:     m.NumGC,
		})
		log.Printf("  [heap] %-30s inuse=%6.1f MB  sys=%6.1f MB  idle=%6.1f MB",
			label, float64(m.HeapInuse)/1e6, float64(m.HeapSys)/1e6, float64(m.HeapIdle)/1e6)
	}

	writeHeapProfile := func(name string) {
		runtime.GC()

		path := filepath.Join(*profileDir, name)

		f, ferr := os.Create(path)
		if ferr != nil {
			log.Printf("warning: create heap profile %s: %v", path, ferr)

			return
		}
		defer f.Close()

		if perr := pprof.WriteHeapProfile(f); perr != nil {
			log.Printf("warning: write heap profile %s: %v", path, perr)
		}
	}

	takeSnapshot("before_runs")
	writeHeapProfile("heap_before_runs.prof")

	for i := range *runs {
		if err := copyFile(*input, runtimeCopy); err != nil {
			log.Fatalf("copy runtime: %v", err)
		}

		res, runErr := orchestrator.New(cfg).Run(context.Background(), *input, runtimeCopy, "")
		if runErr != nil {
			log.Fatalf("run %d: %v", i+1, runErr)
		}

		log.Printf("run %d/%d: %d units, %d skipped, %d lines rewritten in %s",
			i+1, *runs, res.Units, res.Skipped, res.Lines, res.Duration)

		takeSnapshot(fmt.Sprintf("after_run_%d", i+1))
		writeHeapProfile(fmt.Sprintf("heap_after_run_%d.prof", i+1))
	}

	fmt.Println()
	fmt.Println("=== Heap Memory Timeline ===")
	fmt.Printf("%-30s %10s %10s %10s %6s\n", "Phase", "InUse(MB)", "Sys(MB)", "Idle(MB)", "GCs")
	fmt.Println(strings.Repeat("-", 30) + "+----------+----------+----------+------")

	for _, s := range snapshots {
		fmt.Printf("%-30s %10.1f %10.1f %10.1f %6d\n",
			s.label, float64(s.heapInUse)/1e6, float64(s.heapSys)/1e6, float64(s.heapIdle)/1e6, s.numGC)
	}

	if len(snapshots) > 1 {
		first, last := snapshots[0], snapshots[len(snapshots)-1]
		fmt.Printf("\nretained after %d runs: %.1f MB\n",
			*runs, (float64(last.heapInUse)-float64(first.heapInUse))/1e6)
	}
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}

	return os.WriteFile(dst, data, 0o644)
}
