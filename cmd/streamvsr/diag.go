package main

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/g023/streamvsr/convcache"
	"github.com/g023/streamvsr/envconfig"
	"github.com/g023/streamvsr/ml"
	"github.com/g023/streamvsr/ml/backend/cpu"
	"github.com/g023/streamvsr/ml/nn"
	"github.com/g023/streamvsr/upscale"
)

var diagCmd = &cobra.Command{
	Use:   "diag",
	Short: "Run build diagnostics",
	Run:   runDiagnostics,
}

func runDiagnostics(cmd *cobra.Command, args []string) {
	fmt.Println("================================================================================")
	fmt.Println("STREAMVSR BUILD DIAGNOSTICS")
	fmt.Println("================================================================================")
	fmt.Printf("Date: %s\n", time.Now().Format(time.RFC1123))
	fmt.Printf("Go Version: %s\n", runtime.Version())
	fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Println("================================================================================")

	fmt.Println("\n[1] ENVCONFIG CHECK")
	fmt.Printf("  - Cache Compression: %v (level %d, idle %d)\n",
		envconfig.CacheCompression(), envconfig.CompressionLevel(), envconfig.CompressionIdleThreshold())
	fmt.Printf("  - Worker Thread Hint: %d\n", envconfig.Threads())
	fmt.Println("    ✅ PASS")

	fmt.Println("\n[2] CPU BACKEND OPTIMIZATIONS")
	ioThreads := cpu.OptimalThreadCount("io", 8)
	computeThreads := cpu.OptimalThreadCount("compute", 8)
	fmt.Printf("  - Optimal IO Threads (hint 8): %d\n", ioThreads)
	fmt.Printf("  - Optimal Compute Threads (hint 8): %d\n", computeThreads)
	if ioThreads > 0 && computeThreads > 0 {
		fmt.Println("    ✅ PASS: Dynamic threading active")
	}

	start := time.Now()
	for i := 0; i < 1000; i++ {
		buf := cpu.TensorSlabPool.GetSlab(1024 * 1024)
		cpu.TensorSlabPool.PutSlab(buf)
	}
	duration := time.Since(start)
	fmt.Printf("  - 1000x 1M-element Slab Get/Put: %v\n", duration)
	if duration < 5*time.Millisecond {
		fmt.Println("    ✅ PASS: Slab pool system is fast")
	}

	fmt.Println("\n[3] LOOKBACK CACHE ORDERING GUARD")
	backend := cpu.New()
	cache := convcache.NewLookbackCache(2)
	cache.Init(backend, ml.DTypeF32, 1)
	ctx := backend.NewContext()
	_ = cache.StartChunk(ctx, convcache.Chunk{Frames: 4})
	cache.SetStage(0)
	_ = cache.State(ctx, 4)
	cache.Update(ctx, ctx.Zeros(ml.DTypeF32, 4, 2))
	caught := func() (caught bool) {
		defer func() { caught = recover() != nil }()
		_ = cache.State(ctx, 4)
		return
	}()
	ctx.Close()
	cache.Close()
	if caught {
		fmt.Println("  - Same-step read-after-update rejected")
		fmt.Println("    ✅ PASS: Causal ordering enforced")
	} else {
		fmt.Println("    ❌ FAIL: Read-after-update not rejected")
	}

	fmt.Println("\n[4] STREAMING CONV OPTIMIZATIONS")
	fmt.Printf("  - Validation Mode: %v\n", nn.GetConvValidationMode())
	nn.SetConvValidationMode(nn.ValidationDisabled)
	fmt.Printf("  - Validation Mode (after set): %v\n", nn.GetConvValidationMode())
	nn.SetConvValidationMode(nn.ValidationEnabled)
	fmt.Println("    ✅ PASS: Validation mode system functional")

	fmt.Println("\n[5] OUTPUT DTYPE NORMALIZATION")
	cpu.ResetStats()
	u, err := upscale.New(backend, upscale.Config{Scale: 2, Window: 2, Stages: 2, Precision: ml.DTypeF16})
	if err == nil {
		in := backend.NewContext()
		out := backend.NewContext()
		chunk := in.Zeros(ml.DTypeF32, 1, 64, 64, 2)
		res, rerr := u.ProcessChunk(context.Background(), out, chunk)
		if rerr == nil && res.DType() == ml.DTypeF32 {
			fmt.Printf("  - F16 pipeline output dtype: %s\n", res.DType())
			fmt.Println("    ✅ PASS: Output normalized to F32")
		} else {
			fmt.Println("    ❌ FAIL: Output not F32")
		}
		in.Close()
		out.Close()
		u.Close()
	}
	fmt.Printf("  - Peak backend memory during check: %s\n",
		humanize.IBytes(uint64(cpu.Stats.PeakBytes.Load())))

	fmt.Println("\n================================================================================")
	fmt.Println("DIAGNOSTICS COMPLETE")
	fmt.Println("================================================================================")
}
