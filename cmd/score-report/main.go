package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/nuance-network/nuance-validator/internal/config"
	"github.com/nuance-network/nuance-validator/internal/models"
	"github.com/nuance-network/nuance-validator/internal/storage"
	"github.com/nuance-network/nuance-validator/internal/validator"
)

// printReport outputs a weight report to the terminal
func printReport(report *models.WeightReport) {
	fmt.Println("\n" + strings.Repeat("=", 70))
	fmt.Println("📊 NUANCE WEIGHT REPORT (dry run)")
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("📅 Window: %s to %s\n", report.WindowStart.Format("2006-01-02 15:04"), report.GeneratedAt.Format("2006-01-02 15:04"))
	fmt.Printf("📈 Interactions scored: %d\n", report.Interactions)
	fmt.Printf("⏭️  Interactions skipped: %d\n", report.Skipped)

	hotkeys := make([]string, 0, len(report.Weights))
	for hotkey := range report.Weights {
		hotkeys = append(hotkeys, hotkey)
	}
	sort.Slice(hotkeys, func(i, j int) bool {
		if report.Weights[hotkeys[i]] != report.Weights[hotkeys[j]] {
			return report.Weights[hotkeys[i]] > report.Weights[hotkeys[j]]
		}
		return hotkeys[i] < hotkeys[j]
	})

	if len(hotkeys) == 0 {
		fmt.Println("\n⚠️  No weights in this window, nothing would be submitted")
	} else {
		fmt.Println("\n🏆 Weights:")
		for i, hotkey := range hotkeys {
			if i >= 20 {
				fmt.Printf("   ... and %d more nodes\n", len(hotkeys)-20)
				break
			}
			fmt.Printf("   %2d. %-50s score %8.4f | weight %.4f\n", i+1, hotkey, report.Scores[hotkey], report.Weights[hotkey])
		}
	}

	fmt.Println("\n" + strings.Repeat("=", 70))
}

func saveReportToFile(report *models.WeightReport) error {
	dir := "test_output"
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	timestamp := report.GeneratedAt.Format("2006-01-02_15-04-05")
	filename := filepath.Join(dir, fmt.Sprintf("nuance_weights_%s.json", timestamp))

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return err
	}

	fmt.Printf("\n💾 Report saved to: %s\n", filename)
	return nil
}

func main() {
	fmt.Println("🤖 Nuance Validator - Score Report Generator")
	fmt.Println("===========================================")

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := storage.OpenDatabase(cfg.DatabaseURL, cfg.Debug)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	store, err := storage.NewGormStore(db)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	// Compute only reads the store, nothing is submitted
	svc := validator.NewService(cfg, validator.Dependencies{Store: store})
	report, err := svc.Aggregator().Compute(ctx)
	if err != nil {
		log.Fatalf("Failed to compute weights: %v", err)
	}

	printReport(report)

	if err := saveReportToFile(report); err != nil {
		fmt.Printf("\n⚠️  Warning: Could not save to file: %v\n", err)
	}

	fmt.Println("\n✅ Score report completed!")
}
