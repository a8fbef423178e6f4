package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"swapfuzz/pkg/fuzzer"
)

// 命令行参数
var (
	configPath = flag.String("config", "./config/swapfuzz.yaml", "Configuration file path")
	outputDir  = flag.String("output", "", "Output directory (overrides config)")
	iterations = flag.Int("iterations", 0, "Number of trades to execute (overrides config)")
	workers    = flag.Int("workers", 0, "Number of concurrent workers (overrides config)")
	seedFlag   = flag.Int64("seed", 0, "Deterministic campaign seed (overrides config)")
	format     = flag.String("format", "", "Report format: json, text, csv (overrides config)")
	verbose    = flag.Bool("verbose", false, "Enable verbose logging")
)

func main() {
	flag.Parse()

	// 设置日志
	if *verbose {
		log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	} else {
		log.SetFlags(log.LstdFlags)
	}

	// 加载配置
	config, err := fuzzer.LoadConfig(*configPath)
	if err != nil {
		log.Printf("Warning: Failed to load config file, using defaults: %v", err)
		config = fuzzer.DefaultConfig()
	}
	applyOverrides(config)

	printConfig(config)

	// 准备campaign
	campaign, err := fuzzer.NewCampaign(config)
	if err != nil {
		log.Printf("Failed to set up campaign: %v", err)
		os.Exit(2)
	}

	// 设置信号处理
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("\nReceived interrupt signal, stopping...")
		cancel()
	}()

	startTime := time.Now()
	report, err := campaign.Run(ctx)
	if err != nil {
		log.Printf("Campaign failed: %v", err)
		os.Exit(2)
	}
	duration := time.Since(startTime)

	// 打印统计信息
	printStatistics(report, duration)

	// 保存报告
	if err := saveReports(report, config); err != nil {
		log.Printf("Failed to save report: %v", err)
		os.Exit(2)
	}

	// 有命中时以非零码退出，便于脚本串联
	if len(report.Findings) > 0 {
		log.Printf("Campaign found %d profitable finding(s)", len(report.Findings))
		os.Exit(1)
	}
	log.Printf("Campaign completed cleanly in %v", duration)
}

// applyOverrides 命令行参数覆盖配置值
func applyOverrides(config *fuzzer.Config) {
	if *outputDir != "" {
		config.Campaign.OutputDir = *outputDir
	}
	if config.Campaign.OutputDir == "" {
		config.Campaign.OutputDir = "./campaign_reports"
	}
	if *iterations > 0 {
		config.Campaign.Iterations = *iterations
	}
	if *workers > 0 {
		config.Campaign.Workers = *workers
	}
	if *seedFlag != 0 {
		config.Campaign.Seed = *seedFlag
	}
	if *format != "" {
		config.Campaign.Formats = []string{*format}
	}
	if len(config.Campaign.Formats) == 0 {
		config.Campaign.Formats = []string{"json"}
	}
}

// printConfig 打印配置信息
func printConfig(config *fuzzer.Config) {
	if !*verbose {
		return
	}

	fmt.Println("\n=== Campaign Configuration ===")
	fmt.Printf("Chain: %s\n", config.Chain)
	fmt.Printf("Protocol: %s\n", config.Protocol)
	fmt.Printf("WETH: %s\n", config.Weth)
	fmt.Printf("Callers: %d\n", len(config.Callers))
	fmt.Printf("Pools: %d\n", len(config.Pools))
	fmt.Printf("Target Tokens: %d\n", len(config.Tokens))
	fmt.Printf("Iterations: %d\n", config.Campaign.Iterations)
	fmt.Printf("Workers: %d\n", config.Campaign.Workers)
	fmt.Printf("Base Amount: %s\n", config.Campaign.BaseAmount.String())
	fmt.Printf("Output Dir: %s\n", config.Campaign.OutputDir)
	fmt.Println("==============================")
}

// printStatistics 打印统计信息
func printStatistics(report *fuzzer.CampaignReport, duration time.Duration) {
	fmt.Println("\n=== Campaign Results ===")
	fmt.Printf("Chain: %s  Protocol: %s\n", report.Chain, report.Protocol)
	fmt.Printf("Trades Executed: %d\n", report.Iterations)
	fmt.Printf("Feasible: %d  Infeasible: %d  Fatal: %d\n",
		report.FeasibleTrades, report.InfeasibleTrades, report.FatalTrades)
	fmt.Printf("Execution Time: %v\n", duration)

	if len(report.TokenStats) > 0 {
		fmt.Println("\nPer-Token Statistics:")
		addrs := make([]string, 0, len(report.TokenStats))
		for addr := range report.TokenStats {
			addrs = append(addrs, addr)
		}
		sort.Strings(addrs)
		for _, addr := range addrs {
			stat := report.TokenStats[addr]
			fmt.Printf("  %s: routes=%d trades=%d feasible=%d findings=%d\n",
				addr, stat.Routes, stat.Trades, stat.Feasible, stat.Findings)
		}
	}

	if len(report.Findings) > 0 {
		fmt.Println("\n=== Findings ===")
		for i, f := range report.Findings {
			fmt.Printf("#%d iteration %d: %s %s amount=%s buyRoute=%d sellRoute=%d\n",
				i+1, f.Iteration, f.Kind, f.Token, f.Amount, f.BuyRoute, f.SellRoute)
			fmt.Printf("   [%s] %s\n", f.Finding.Oracle, f.Finding.Message)
			if f.TracePath != "" {
				fmt.Printf("   trace: %s\n", f.TracePath)
			}
		}
	}
	fmt.Println("========================")
}

// saveReports 按配置的全部格式落盘
func saveReports(report *fuzzer.CampaignReport, config *fuzzer.Config) error {
	dir := config.Campaign.OutputDir
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	timestamp := time.Now().Format("20060102_150405")
	for _, f := range config.Campaign.Formats {
		var data []byte
		var err error
		var ext string

		switch f {
		case "json":
			ext = "json"
			data, err = json.MarshalIndent(report, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal JSON: %w", err)
			}
		case "text":
			ext = "txt"
			data = []byte(formatReportAsText(report))
		case "csv":
			ext = "csv"
			data = []byte(formatReportAsCSV(report))
		default:
			return fmt.Errorf("unsupported format: %s", f)
		}

		path := filepath.Join(dir, fmt.Sprintf("campaign_%s.%s", timestamp, ext))
		if err := os.WriteFile(path, data, 0644); err != nil {
			return fmt.Errorf("failed to write file: %w", err)
		}
		log.Printf("Report saved to: %s", path)
	}
	return nil
}

// formatReportAsText 格式化报告为文本
func formatReportAsText(report *fuzzer.CampaignReport) string {
	var sb strings.Builder

	sb.WriteString("Swap Route Fuzzing Report\n")
	sb.WriteString("=========================\n\n")
	sb.WriteString(fmt.Sprintf("Chain: %s\n", report.Chain))
	sb.WriteString(fmt.Sprintf("Protocol: %s\n", report.Protocol))
	sb.WriteString(fmt.Sprintf("Started: %s\n", report.StartedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Finished: %s\n\n", report.FinishedAt.Format(time.RFC3339)))

	sb.WriteString("Statistics:\n")
	sb.WriteString(fmt.Sprintf("  Trades: %d\n", report.Iterations))
	sb.WriteString(fmt.Sprintf("  Feasible: %d\n", report.FeasibleTrades))
	sb.WriteString(fmt.Sprintf("  Infeasible: %d\n", report.InfeasibleTrades))
	sb.WriteString(fmt.Sprintf("  Fatal: %d\n\n", report.FatalTrades))

	sb.WriteString(fmt.Sprintf("Findings (%d):\n", len(report.Findings)))
	for i, f := range report.Findings {
		sb.WriteString(fmt.Sprintf("\n#%d iteration %d\n", i+1, f.Iteration))
		sb.WriteString(fmt.Sprintf("  Token: %s\n", f.Token))
		sb.WriteString(fmt.Sprintf("  Kind: %s  Amount: %s\n", f.Kind, f.Amount))
		sb.WriteString(fmt.Sprintf("  Routes: buy=%d sell=%d\n", f.BuyRoute, f.SellRoute))
		sb.WriteString(fmt.Sprintf("  Oracle: %s\n", f.Finding.Oracle))
		sb.WriteString(fmt.Sprintf("  Detail: %s\n", f.Finding.Message))
		if f.TracePath != "" {
			sb.WriteString(fmt.Sprintf("  Trace: %s\n", f.TracePath))
		}
	}
	return sb.String()
}

// formatReportAsCSV 格式化命中记录为CSV
func formatReportAsCSV(report *fuzzer.CampaignReport) string {
	var sb strings.Builder

	sb.WriteString("Iteration,Token,Kind,Amount,BuyRoute,SellRoute,Oracle,Profit\n")
	for _, f := range report.Findings {
		profit := f.Finding.Metadata["profit"]
		sb.WriteString(fmt.Sprintf("%d,%s,%s,%s,%d,%d,%s,%s\n",
			f.Iteration, f.Token, f.Kind, f.Amount, f.BuyRoute, f.SellRoute,
			f.Finding.Oracle, profit))
	}
	return sb.String()
}
