package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"swapfuzz/pkg/fuzzer"
	"swapfuzz/pkg/tracer"
)

// 命令行参数
var (
	configPath = flag.String("config", "./config/swapfuzz.yaml", "Configuration file path")
	tracePath  = flag.String("trace", "", "Trace file to replay (required)")
	verbose    = flag.Bool("verbose", false, "Print the full trace before replaying")
)

func main() {
	flag.Parse()

	if *tracePath == "" {
		flag.Usage()
		log.Fatal("trace file path is required (-trace)")
	}

	// 加载配置并重建交易宇宙
	config, err := fuzzer.LoadConfig(*configPath)
	if err != nil {
		log.Printf("Warning: Failed to load config file, using defaults: %v", err)
		config = fuzzer.DefaultConfig()
	}

	universe, err := fuzzer.BuildUniverse(config)
	if err != nil {
		log.Printf("Failed to build universe: %v", err)
		os.Exit(2)
	}

	trace, err := tracer.LoadTrace(*tracePath)
	if err != nil {
		log.Printf("Failed to load trace: %v", err)
		os.Exit(2)
	}

	if *verbose {
		fmt.Println(trace.String())
	}

	// 在全新状态上按序回放
	st := universe.NewChainState()
	outcomes, replayErr := tracer.Replay(trace, st, universe.Contexts)

	fmt.Println("\n=== Replay Result ===")
	fmt.Printf("Transactions: %d  Replayed: %d\n", len(trace.Transactions), len(outcomes))
	for _, out := range outcomes {
		status := "feasible"
		if !out.Feasible {
			status = "infeasible"
		}
		if out.Error != "" {
			fmt.Printf("  txn %d: %s (%s)\n", out.Index, status, out.Error)
		} else {
			fmt.Printf("  txn %d: %s\n", out.Index, status)
		}
	}

	fl := st.Flashloan()
	fmt.Println("\n=== Flashloan Ledger ===")
	fmt.Printf("Owed:   %s\n", fl.Owed.String())
	fmt.Printf("Earned: %s\n", fl.Earned.String())
	fmt.Printf("Profit: %s\n", fl.Profit().String())

	fmt.Printf("\nFinal state hash: %s\n", st.StateHash().Hex())

	if replayErr != nil {
		log.Printf("Replay aborted: %v", replayErr)
		os.Exit(1)
	}
	log.Println("Replay completed")
}
