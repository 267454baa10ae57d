package main

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/nuance-network/nuance-validator/internal/config"
	"github.com/nuance-network/nuance-validator/internal/ledger"
	"github.com/nuance-network/nuance-validator/internal/models"
	"github.com/nuance-network/nuance-validator/internal/oracle"
	"github.com/nuance-network/nuance-validator/internal/sources"
)

func main() {
	fmt.Println("🔍 Nuance Validator - Upstream Connectivity Check")
	fmt.Println("=================================================")

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	fmt.Println("\n📡 Checking upstreams...")
	fmt.Println(strings.Repeat("-", 40))

	commitments := checkLedger(ctx, ledger.NewClient(cfg.LedgerURL, cfg.Netuid, cfg.CallTimeout))
	checkTwitter(ctx, sources.NewTwitterSource(cfg.TwitterAPIURL, cfg.TwitterAPIKey, cfg.AnnouncementPostID, cfg.CallTimeout), cfg.AnnouncementPostID, commitments)
	checkOracle(ctx, oracle.NewClient(cfg.OracleURL, cfg.OracleAPIKey, cfg.CallTimeout), oracle.Params{Model: cfg.OracleModel, MaxTokens: cfg.OracleMaxTokens})
	checkPrompts(ctx, oracle.NewPromptStore(cfg.ConstitutionURL, cfg.Topics, cfg.PromptRefresh))

	fmt.Println("\n✅ Connectivity check completed!")
	fmt.Println("\n💡 Next steps:")
	fmt.Println("   • Fix any failing upstream in .env")
	fmt.Println("   • Run the validator with: go run ./cmd/validator")
}

func checkLedger(ctx context.Context, l ledger.Ledger) []models.Commitment {
	fmt.Printf("🔸 Checking ledger commitments... ")
	commitments, err := l.GetCommitments(ctx)
	if err != nil {
		fmt.Printf("❌ ERROR: %v\n", err)
		return nil
	}
	fmt.Printf("✅ SUCCESS (%d commitments)\n", len(commitments))
	return commitments
}

func checkTwitter(ctx context.Context, source sources.ContentSource, announcementID string, commitments []models.Commitment) {
	fmt.Printf("🔸 Checking Twitter/X announcement post... ")
	post, err := source.GetPost(ctx, announcementID)
	switch {
	case err != nil:
		fmt.Printf("❌ ERROR: %v\n", err)
	case post == nil:
		fmt.Printf("⚠️  NOT FOUND (%s)\n", announcementID)
	default:
		fmt.Printf("✅ SUCCESS\n   📝 \"%s\"\n", truncate(post.Content, 80))
	}

	verified, failed := 0, 0
	for _, commitment := range commitments {
		claim, err := models.ParseClaim(commitment.Data)
		if err != nil || claim.Platform != source.Platform() {
			continue
		}
		if _, err := source.VerifyAccountOwnership(ctx, claim, commitment.Node()); err != nil {
			fmt.Printf("   ⚠️  %s (@%s): %v\n", commitment.Hotkey, claim.Username, err)
			failed++
			continue
		}
		verified++
	}
	if verified+failed > 0 {
		fmt.Printf("   🔐 Ownership: %d verified, %d failed\n", verified, failed)
	}
}

func checkOracle(ctx context.Context, o oracle.Oracle, params oracle.Params) {
	fmt.Printf("🔸 Checking oracle... ")
	answer, err := o.Query(ctx, "Reply with the single word OK.", params)
	if err != nil {
		fmt.Printf("❌ ERROR: %v\n", err)
		return
	}
	fmt.Printf("✅ SUCCESS (%q)\n", truncate(strings.TrimSpace(answer), 40))
}

func checkPrompts(ctx context.Context, prompts *oracle.PromptStore) {
	fmt.Printf("🔸 Checking constitution prompts... ")
	if _, err := prompts.NuancePrompt(ctx); err != nil {
		fmt.Printf("❌ ERROR: %v\n", err)
		return
	}
	missing := []string{}
	for _, topic := range prompts.Topics() {
		if _, ok, err := prompts.TopicPrompt(ctx, topic); err != nil || !ok {
			missing = append(missing, topic)
		}
	}
	if len(missing) > 0 {
		fmt.Printf("⚠️  PARTIAL (no prompt for %s)\n", strings.Join(missing, ", "))
		return
	}
	fmt.Printf("✅ SUCCESS (%d topics)\n", len(prompts.Topics()))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
