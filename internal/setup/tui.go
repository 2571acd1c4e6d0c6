package setup

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/arbiterhq/arbiter/config"
)

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

// RunTUI launches the terminal configuration wizard.
func RunTUI() error {
	var (
		venue         string
		weighting     string
		minScoreStr   string
		quorumStr     string
		maxWaitStr    string
		workersStr    string
		balanceStr    string
		riskBudgetStr string
		agentsStr     string
		statusAddr    string
		confirm       bool
	)

	// defaults
	minScoreStr = "0.5"
	quorumStr = "0.6"
	maxWaitStr = "30s"
	workersStr = "1"
	balanceStr = "10000"
	riskBudgetStr = "10"
	statusAddr = ":8080"

	// step 1: welcome
	fmt.Print("\033[H\033[2J") // Clear screen
	fmt.Println(headerStyle.Render("ARBITER CONFIG WIZARD"))
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Let's wire up your decision core.\n"))

	// venue
	fmt.Println(stepStyle.Render("STEP 1: VENUE"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Select Execution Venue").
				Options(
					huh.NewOption("Binance", "binance"),
					huh.NewOption("Bybit", "bybit"),
					huh.NewOption("Paper (dry run)", "paper"),
				).
				Value(&venue),
		),
	).Run()
	if err != nil {
		return err
	}

	// consensus
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("ARBITER CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("STEP 2: CONSENSUS"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Weighting Strategy").
				Options(
					huh.NewOption("Equal (one agent, one vote)", "equal"),
					huh.NewOption("Confidence (self-reported)", "confidence"),
					huh.NewOption("Performance (track record)", "performance"),
				).
				Value(&weighting),
			huh.NewInput().
				Title("Min Ensemble Confidence").
				Description("Decisions scoring below this are forced to hold, [0,1]").
				Validate(validateFraction).
				Value(&minScoreStr),
			huh.NewInput().
				Title("Quorum Fraction").
				Description("Share of active agents that triggers aggregation, (0,1]").
				Validate(validateFraction).
				Value(&quorumStr),
			huh.NewInput().
				Title("Max Wait Window").
				Description("How long a bucket collects signals (e.g. 30s, 2m)").
				Validate(validateDuration).
				Value(&maxWaitStr),
		),
	).Run()
	if err != nil {
		return err
	}

	// execution
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("ARBITER CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("STEP 3: EXECUTION"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Execution Workers").
				Description("More than 1 relaxes strict priority ordering").
				Validate(validatePositiveInt).
				Value(&workersStr),
			huh.NewInput().
				Title("Account Balance").
				Validate(validatePositiveDecimal).
				Value(&balanceStr),
			huh.NewInput().
				Title("Risk Budget Percent").
				Description("Share of balance a single position may take, (0,100]").
				Validate(validatePercent).
				Value(&riskBudgetStr),
		),
	).Run()
	if err != nil {
		return err
	}

	// agents
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("ARBITER CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("STEP 4: AGENTS"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Strategy Agents").
				Description("Comma-separated id:weight pairs (e.g. momentum:1.0,sentiment:0.8)").
				Validate(validateAgents).
				Value(&agentsStr),
			huh.NewInput().
				Title("Status Address").
				Description("HTTP listen address for /status, empty to disable").
				Value(&statusAddr),
		),
	).Run()
	if err != nil {
		return err
	}

	// confirmation
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("ARBITER CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("FINAL CONFIRMATION"))

	summary := fmt.Sprintf(
		"Venue: %s\nWeighting: %s\nMin Confidence: %s\nQuorum: %s\nMax Wait: %s\nWorkers: %s\nAgents: %s\n",
		venue, weighting, minScoreStr, quorumStr, maxWaitStr, workersStr, agentsStr,
	)
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary))

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save Configuration?").
				Affirmative("Yes, save and start").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return err
	}

	if !confirm {
		return fmt.Errorf("setup cancelled by user")
	}

	// generate config
	minScore, _ := strconv.ParseFloat(minScoreStr, 64)
	quorum, _ := strconv.ParseFloat(quorumStr, 64)
	riskBudget, _ := strconv.ParseFloat(riskBudgetStr, 64)
	workers, _ := strconv.Atoi(workersStr)
	agents, _ := parseAgents(agentsStr)

	cfgTmp := config.ConfigTmp{
		Venue:             venue,
		WeightingStrategy: weighting,
		MinEnsembleScore:  &minScore,
		QuorumFraction:    &quorum,
		MaxWaitWindow:     maxWaitStr,
		Workers:           workers,
		BalanceStr:        balanceStr,
		RiskBudget:        &riskBudget,
		StatusAddr:        statusAddr,
		Agents:            agents,
	}

	data, err := yaml.Marshal(cfgTmp)
	if err != nil {
		return fmt.Errorf("failed to generate yaml: %w", err)
	}

	// write to config.gen.yaml
	filename := "config.gen.yaml"
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to save config file: %w", err)
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(fmt.Sprintf("\n✓ Configuration saved to %s\nStarting core...", filename)))
	time.Sleep(1500 * time.Millisecond) // small pause to read success message
	return nil
}

func parseAgents(s string) ([]config.AgentConfig, error) {
	var agents []config.AgentConfig
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, weightStr, found := strings.Cut(part, ":")
		weight := 1.0
		if found {
			parsed, err := strconv.ParseFloat(weightStr, 64)
			if err != nil || parsed < 0 || parsed > 1 {
				return nil, fmt.Errorf("weight for %q must be a number in [0,1]", id)
			}
			weight = parsed
		}
		if strings.TrimSpace(id) == "" {
			return nil, fmt.Errorf("agent id must not be empty")
		}
		agents = append(agents, config.AgentConfig{ID: strings.TrimSpace(id), Weight: weight})
	}
	if len(agents) == 0 {
		return nil, fmt.Errorf("at least one agent is required")
	}
	return agents, nil
}

func validateAgents(s string) error {
	_, err := parseAgents(s)
	return err
}

func validateFraction(s string) error {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 || f > 1 {
		return fmt.Errorf("must be a number between 0 and 1")
	}
	return nil
}

func validatePercent(s string) error {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 || f > 100 {
		return fmt.Errorf("must be a number in (0,100]")
	}
	return nil
}

func validatePositiveInt(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return fmt.Errorf("must be a positive integer")
	}
	return nil
}

func validatePositiveDecimal(s string) error {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("must be a valid number")
	}
	if d.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("must be positive")
	}
	return nil
}

func validateDuration(s string) error {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fmt.Errorf("must be a positive duration like 30s")
	}
	return nil
}
