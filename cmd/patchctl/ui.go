package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"pomopatch/internal/garden"

	"github.com/fatih/color"
	"golang.org/x/term"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
)

var rarityColor = map[garden.Rarity]*color.Color{
	garden.RarityCommon:   color.New(color.FgHiWhite),
	garden.RarityUncommon: color.New(color.FgHiBlue, color.Bold),
	garden.RarityRare:     color.New(color.FgMagenta, color.Bold),
}

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Fprintln(os.Stderr, msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

// promptPassword reads without echo on a terminal and falls back to a plain
// line read when stdin is piped.
func promptPassword(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return promptRequired(label)
	}
	for {
		fmt.Printf("%s: ", label)
		raw, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", err
		}
		if text := strings.TrimSpace(string(raw)); text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func promptDisplayName(label string) (string, error) {
	for {
		name, err := promptRequired(label)
		if err != nil {
			return "", err
		}
		if err := garden.ValidateDisplayName(name); err != nil {
			printWarn(err.Error())
			continue
		}
		return name, nil
	}
}

func promptChoice(label string, options []string, defaultValue string) (string, error) {
	normalized := make(map[string]struct{}, len(options))
	for _, opt := range options {
		normalized[strings.ToLower(strings.TrimSpace(opt))] = struct{}{}
	}
	for {
		fmt.Printf("%s (%s) [%s]: ", label, strings.Join(options, "/"), defaultValue)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.ToLower(strings.TrimSpace(text))
		if text == "" {
			text = strings.ToLower(strings.TrimSpace(defaultValue))
		}
		if _, ok := normalized[text]; ok {
			return text, nil
		}
		printWarn("Invalid option. Please pick one of the listed values.")
	}
}

func promptConfirm(label string) (bool, error) {
	answer, err := promptChoice(label, []string{"y", "n"}, "n")
	if err != nil {
		return false, err
	}
	return answer == "y", nil
}

func renderAccount(a garden.Account) {
	accent.Printf("%s", a.DisplayName)
	neutral.Printf("  <%s>\n", a.ID)
	fmt.Printf("  Balance     %s\n", formatMicros(a.BalanceMicros))
	fmt.Printf("  Water       %d\n", a.Water)
	fmt.Printf("  Fertilizer  %d\n", a.Fertilizer)
	fmt.Printf("  Plants      %d / %d\n", a.PlantCount, a.PlantCapacity)
	fmt.Printf("  Next tier   %s\n", formatMicros(a.NextUpgradeCostMicros))
}

func renderPlants(plants []garden.Plant) {
	if len(plants) == 0 {
		printInfo("No plants yet. Try `patchctl plants create flower`.")
		return
	}
	accent.Printf("%-6s %-20s %-10s %-9s %-7s %-10s %s\n", "ID", "SPECIES", "TYPE", "RARITY", "STAGE", "GROWING", "POSITION")
	for _, p := range plants {
		fmt.Printf("%-6d %-20s %-10s %s %-7s %-10s %s\n",
			p.ID,
			truncate(p.Species, 20),
			p.Type,
			colorRarity(p.Rarity, 9),
			p.Stage,
			growthLabel(p),
			formatPosition(p.Position),
		)
	}
}

func renderPlant(p garden.Plant) {
	accent.Printf("#%d %s\n", p.ID, p.Species)
	fmt.Printf("  Type      %s\n", p.Type)
	fmt.Printf("  Rarity    %s\n", colorRarity(p.Rarity, 0))
	fmt.Printf("  Stage     %s\n", p.Stage)
	fmt.Printf("  Growing   %s\n", growthLabel(p))
	fmt.Printf("  Position  %s\n", formatPosition(p.Position))
	if payout, err := p.SalePayoutMicros(); err == nil {
		fmt.Printf("  Sells for %s\n", formatMicros(payout))
	}
}

func renderLedger(entries []garden.LedgerEntry) {
	if len(entries) == 0 {
		printInfo("No ledger entries.")
		return
	}
	accent.Printf("%-20s %-18s %14s %7s %7s\n", "WHEN", "ACTION", "BALANCE", "WATER", "FERT")
	for _, e := range entries {
		fmt.Printf("%-20s %-18s %14s %7s %7s\n",
			e.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			e.Action,
			colorizeMicros(e.BalanceDeltaMicros),
			signedInt(e.WaterDelta),
			signedInt(e.FertilizerDelta),
		)
	}
}

func colorRarity(r garden.Rarity, width int) string {
	text := r.String()
	if width > 0 {
		text = fmt.Sprintf("%-*s", width, text)
	}
	if c, ok := rarityColor[r]; ok {
		return c.Sprint(text)
	}
	return text
}

func growthLabel(p garden.Plant) string {
	if !p.Growing() {
		return "-"
	}
	return strconv.FormatInt(*p.RemainingGrowthTime, 10) + " left"
}

func formatPosition(pos *garden.Position) string {
	if pos == nil {
		return "inventory"
	}
	return fmt.Sprintf("(%d, %d)", pos.X, pos.Y)
}

func colorizeMicros(v int64) string {
	text := signedMicros(v)
	switch {
	case v > 0:
		return success.Sprint(text)
	case v < 0:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

func formatMicros(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	whole := v / garden.MicrosPerCoin
	frac := (v % garden.MicrosPerCoin) / 10_000
	return fmt.Sprintf("%s%s.%02d", sign, comma(whole), frac)
}

func signedMicros(v int64) string {
	if v > 0 {
		return "+" + formatMicros(v)
	}
	return formatMicros(v)
}

func signedInt(v int64) string {
	if v > 0 {
		return "+" + strconv.FormatInt(v, 10)
	}
	return strconv.FormatInt(v, 10)
}

func comma(v int64) string {
	s := strconv.FormatInt(v, 10)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
		b.WriteByte(',')
	}
	for i := pre; i < len(s); i += 3 {
		b.WriteString(s[i : i+3])
		if i+3 < len(s) {
			b.WriteByte(',')
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
