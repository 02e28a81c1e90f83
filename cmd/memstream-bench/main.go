package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"runtime"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	memstream "github.com/ehrlich-b/go-memstream"
)

func main() {
	var (
		sizeStr    = flag.String("size", "8M", "Payload size per stream (e.g., 256K, 8M, 1G)")
		chunkStr   = flag.String("chunk", "4K", "Write chunk size")
		iterations = flag.Int("n", 100, "Stream lifetimes per worker")
		workers    = flag.Int("workers", runtime.GOMAXPROCS(0), "Concurrent workers")
		native     = flag.Bool("native", false, "Use native (mmap) large-buffer backing")
		exponential = flag.Bool("exp", false, "Use the exponential large-buffer ladder")
		verbose    = flag.Bool("v", false, "Log diagnostic events")
	)
	flag.Parse()

	size, err := parseSize(*sizeStr)
	if err != nil {
		log.Fatalf("Invalid size %q: %v", *sizeStr, err)
	}
	chunk, err := parseSize(*chunkStr)
	if err != nil {
		log.Fatalf("Invalid chunk %q: %v", *chunkStr, err)
	}

	if *native {
		memstream.UseNativeLargeMemoryBuffers(true)
	}
	if *exponential {
		cfg := memstream.DefaultLargePoolConfig()
		cfg.UseExponentialLargeBuffer = true
		if err := memstream.ConfigureLargePool(cfg); err != nil {
			log.Fatalf("Configure large pool: %v", err)
		}
	}

	metrics := memstream.NewMetrics()
	if *verbose {
		memstream.SetObserver(&memstream.LogObserver{})
	} else {
		memstream.SetObserver(memstream.NewMetricsObserver(metrics))
	}

	payload := make([]byte, chunk)
	rand.New(rand.NewSource(1)).Read(payload)

	start := time.Now()
	var g errgroup.Group
	for w := 0; w < *workers; w++ {
		g.Go(func() error {
			for i := 0; i < *iterations; i++ {
				if err := runOnce(size, payload); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Fatalf("Benchmark failed: %v", err)
	}
	elapsed := time.Since(start)

	total := int64(*workers) * int64(*iterations) * size
	fmt.Printf("wrote+read %s in %v (%.1f MB/s)\n",
		formatSize(total), elapsed.Round(time.Millisecond),
		float64(total)/(1<<20)/elapsed.Seconds())

	if !*verbose {
		out, _ := json.MarshalIndent(metrics.Snapshot(), "", "  ")
		fmt.Println(string(out))
	}

	memstream.ReleaseMemoryBuffers()
}

// runOnce writes size bytes in chunks, reads everything back, and closes
// the stream so its storage returns to the pools.
func runOnce(size int64, payload []byte) error {
	s := memstream.NewDefault()
	defer s.Close()

	for written := int64(0); written < size; {
		p := payload
		if remaining := size - written; remaining < int64(len(p)) {
			p = p[:remaining]
		}
		n, err := s.Write(p)
		if err != nil {
			return err
		}
		written += int64(n)
	}

	if _, err := s.Seek(0, io.SeekStart); err != nil {
		return err
	}
	n, err := io.Copy(io.Discard, s)
	if err != nil {
		return err
	}
	if n != size {
		return fmt.Errorf("read back %d bytes, want %d", n, size)
	}
	return nil
}

// parseSize parses sizes like "64K", "8M", "1G".
func parseSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}
	mult := int64(1)
	switch s[len(s)-1] {
	case 'K':
		mult = 1 << 10
		s = s[:len(s)-1]
	case 'M':
		mult = 1 << 20
		s = s[:len(s)-1]
	case 'G':
		mult = 1 << 30
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("size must be positive")
	}
	return n * mult, nil
}

func formatSize(n int64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.1fG", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.1fM", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1fK", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%dB", n)
	}
}
