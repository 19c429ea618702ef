package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	cl "pomopatch/internal/cli"
	"pomopatch/internal/config"
	"pomopatch/internal/garden"

	"github.com/spf13/cobra"
)

const requestTimeout = 30 * time.Second

func main() {
	config.LoadDotEnv()
	cfg := config.LoadCLIFromEnv()
	apiBase := cfg.APIBaseURL

	root := &cobra.Command{
		Use:          "patchctl",
		Short:        "Pomodoro Patch garden client",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", apiBase, "garden API base URL")

	root.AddCommand(
		newSignupCmd(&apiBase),
		newLoginCmd(&apiBase),
		newRefreshCmd(&apiBase),
		newLogoutCmd(),
		newAccountCmd(&apiBase),
		newPlantsCmd(&apiBase),
		newShopCmd(&apiBase),
		newCapacityCmd(&apiBase),
		newLedgerCmd(&apiBase),
	)

	if err := root.Execute(); err != nil {
		printError(fmt.Sprintf("error: %v", err))
		os.Exit(1)
	}
}

func newClient(apiBase *string) *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(*apiBase), "/"))
}

// authed loads the saved session and a request context for one API call.
func authed(cmd *cobra.Command, apiBase *string) (context.Context, context.CancelFunc, *cl.Client, string, error) {
	session, err := cl.LoadSession()
	if err != nil {
		return nil, nil, nil, "", err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	return ctx, cancel, newClient(apiBase), session.AccessToken, nil
}

func saveSession(token, refresh, email, userID string) error {
	return cl.SaveSession(cl.Session{
		AccessToken:  token,
		RefreshToken: refresh,
		Email:        email,
		UserID:       userID,
	})
}

func newSignupCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "signup",
		Short: "Create a login and a garden account",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := promptRequired("Email")
			if err != nil {
				return err
			}
			password, err := promptPassword("Password")
			if err != nil {
				return err
			}
			name, err := promptDisplayName("Display name")
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			session, err := newClient(apiBase).Signup(ctx, email, password, name)
			if err != nil {
				return err
			}
			if strings.TrimSpace(session.AccessToken) == "" {
				printWarn("Signup created. Verify your email, then run `patchctl login` and `patchctl account create`.")
				return nil
			}
			if err := saveSession(session.AccessToken, session.RefreshToken, session.User.Email, session.User.ID); err != nil {
				return err
			}
			if session.Warning != "" {
				printWarn(session.Warning)
				printInfo("Run `patchctl account create` with another display name.")
				return nil
			}
			printSuccess("Signup complete. Your garden is ready.")
			return nil
		},
	}
}

func newLoginCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Log in and save the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := promptRequired("Email")
			if err != nil {
				return err
			}
			password, err := promptPassword("Password")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			session, err := newClient(apiBase).Login(ctx, email, password)
			if err != nil {
				return err
			}
			if err := saveSession(session.AccessToken, session.RefreshToken, session.User.Email, session.User.ID); err != nil {
				return err
			}
			printSuccess("Login successful.")
			return nil
		},
	}
}

func newRefreshCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Exchange the saved refresh token for a new session",
		RunE: func(cmd *cobra.Command, args []string) error {
			current, err := cl.LoadSession()
			if err != nil {
				return err
			}
			if current.RefreshToken == "" {
				return fmt.Errorf("no refresh token saved; run `patchctl login`")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			session, err := newClient(apiBase).Refresh(ctx, current.RefreshToken)
			if err != nil {
				return err
			}
			if err := saveSession(session.AccessToken, session.RefreshToken, session.User.Email, session.User.ID); err != nil {
				return err
			}
			printSuccess("Session refreshed.")
			return nil
		},
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear the local session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cl.ClearSession(); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func newAccountCmd(apiBase *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Show or manage your garden account",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show balance, resources and capacity",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel, client, token, err := authed(cmd, apiBase)
			if err != nil {
				return err
			}
			defer cancel()
			acct, err := client.Account(ctx, token)
			if err != nil {
				return err
			}
			renderAccount(acct)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "create [display-name]",
		Short: "Open a garden account for the logged-in user",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := argOrPrompt(args, promptDisplayName, "Display name")
			if err != nil {
				return err
			}
			ctx, cancel, client, token, err := authed(cmd, apiBase)
			if err != nil {
				return err
			}
			defer cancel()
			acct, err := client.CreateAccount(ctx, token, name)
			if err != nil {
				return err
			}
			renderAccount(acct)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rename [display-name]",
		Short: "Change your display name",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := argOrPrompt(args, promptDisplayName, "New display name")
			if err != nil {
				return err
			}
			ctx, cancel, client, token, err := authed(cmd, apiBase)
			if err != nil {
				return err
			}
			defer cancel()
			acct, err := client.RenameAccount(ctx, token, name)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Display name is now %q.", acct.DisplayName))
			return nil
		},
	})

	var yes bool
	deleteCmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete your account and every plant in it",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				ok, err := promptConfirm("Delete your garden permanently?")
				if err != nil {
					return err
				}
				if !ok {
					printInfo("Cancelled.")
					return nil
				}
			}
			ctx, cancel, client, token, err := authed(cmd, apiBase)
			if err != nil {
				return err
			}
			defer cancel()
			if err := client.DeleteAccount(ctx, token); err != nil {
				return err
			}
			printSuccess("Account deleted.")
			return nil
		},
	}
	deleteCmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation")
	cmd.AddCommand(deleteCmd)

	return cmd
}

func newPlantsCmd(apiBase *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plants",
		Short: "List, plant, grow and sell plants",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every plant you own",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel, client, token, err := authed(cmd, apiBase)
			if err != nil {
				return err
			}
			defer cancel()
			plants, err := client.Plants(ctx, token)
			if err != nil {
				return err
			}
			renderPlants(plants)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <plant-id>",
		Short: "Show one plant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parsePlantID(args[0])
			if err != nil {
				return err
			}
			ctx, cancel, client, token, err := authed(cmd, apiBase)
			if err != nil {
				return err
			}
			defer cancel()
			plant, err := client.Plant(ctx, token, id)
			if err != nil {
				return err
			}
			renderPlant(plant)
			return nil
		},
	})

	var createAt string
	createCmd := &cobra.Command{
		Use:   "create [flower|tree|herb|vegetable]",
		Short: "Sow a new seed",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var typ string
			if len(args) == 1 {
				typ = args[0]
			} else {
				choice, err := promptChoice("Plant type", plantTypeNames(), string(garden.PlantFlower))
				if err != nil {
					return err
				}
				typ = choice
			}
			plantType, err := garden.ParsePlantType(typ)
			if err != nil {
				return err
			}
			pos, err := parsePosition(createAt)
			if err != nil {
				return err
			}
			ctx, cancel, client, token, err := authed(cmd, apiBase)
			if err != nil {
				return err
			}
			defer cancel()
			out, err := client.CreatePlant(ctx, token, plantType, pos)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Planted a %s %s (#%d) for %s.", out.Plant.Rarity, out.Plant.Species, out.Plant.ID, formatMicros(out.CostMicros)))
			printInfo("Balance: " + formatMicros(out.BalanceMicros))
			return nil
		},
	}
	createCmd.Flags().StringVar(&createAt, "at", "", "place on the canvas at x,y")
	cmd.AddCommand(createCmd)

	var moveTo string
	moveCmd := &cobra.Command{
		Use:   "move <plant-id>",
		Short: "Move a plant to x,y or back into the inventory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parsePlantID(args[0])
			if err != nil {
				return err
			}
			pos, err := parsePosition(moveTo)
			if err != nil {
				return err
			}
			ctx, cancel, client, token, err := authed(cmd, apiBase)
			if err != nil {
				return err
			}
			defer cancel()
			plant, err := client.MovePlant(ctx, token, id, pos)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("%s #%d is now at %s.", plant.Species, plant.ID, formatPosition(plant.Position)))
			return nil
		},
	}
	moveCmd.Flags().StringVar(&moveTo, "to", "", "target x,y; empty returns the plant to the inventory")
	cmd.AddCommand(moveCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "grow <plant-id>",
		Short: "Spend water or fertilizer to start the next growth stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parsePlantID(args[0])
			if err != nil {
				return err
			}
			ctx, cancel, client, token, err := authed(cmd, apiBase)
			if err != nil {
				return err
			}
			defer cancel()
			out, err := client.GrowPlant(ctx, token, id)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Used %d %s. %s #%d needs %d more time units.",
				out.Consumed.Amount, out.Consumed.Resource, out.Plant.Species, out.Plant.ID, out.Consumed.Duration))
			printInfo(fmt.Sprintf("%s left: %d", out.Consumed.Resource, out.Remaining))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "tick <plant-id> <elapsed>",
		Short: "Advance a growing plant by elapsed time units",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parsePlantID(args[0])
			if err != nil {
				return err
			}
			elapsed, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil || elapsed <= 0 {
				return fmt.Errorf("elapsed must be a positive whole number")
			}
			ctx, cancel, client, token, err := authed(cmd, apiBase)
			if err != nil {
				return err
			}
			defer cancel()
			out, err := client.TickPlant(ctx, token, id, elapsed)
			if err != nil {
				return err
			}
			if out.StageAdvanced {
				printSuccess(fmt.Sprintf("%s #%d grew into a %s!", out.Plant.Species, out.Plant.ID, out.Plant.Stage))
				return nil
			}
			renderPlant(out.Plant)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "sell <plant-id>",
		Short: "Sell a plant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parsePlantID(args[0])
			if err != nil {
				return err
			}
			ctx, cancel, client, token, err := authed(cmd, apiBase)
			if err != nil {
				return err
			}
			defer cancel()
			out, err := client.SellPlant(ctx, token, id)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Sold #%d for %s.", out.PlantID, colorizeMicros(out.PayoutMicros)))
			printInfo("Balance: " + formatMicros(out.BalanceMicros))
			return nil
		},
	})

	return cmd
}

func newShopCmd(apiBase *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shop",
		Short: "Buy water and fertilizer",
	}
	cmd.AddCommand(&cobra.Command{
		Use:       "buy <water|fertilizer>",
		Short:     "Buy one unit of a resource",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(garden.ResourceWater), string(garden.ResourceFertilizer)},
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := garden.ParseResource(args[0])
			if err != nil {
				return err
			}
			ctx, cancel, client, token, err := authed(cmd, apiBase)
			if err != nil {
				return err
			}
			defer cancel()
			out, err := client.BuyResource(ctx, token, r)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Bought 1 %s for %s. You now have %d.", out.Resource, formatMicros(out.PriceMicros), out.Amount))
			printInfo("Balance: " + formatMicros(out.BalanceMicros))
			return nil
		},
	})
	return cmd
}

func newCapacityCmd(apiBase *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "capacity",
		Short: "Manage garden capacity",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "upgrade",
		Short: "Buy room for more plants",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel, client, token, err := authed(cmd, apiBase)
			if err != nil {
				return err
			}
			defer cancel()
			out, err := client.UpgradeCapacity(ctx, token)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Capacity is now %d plants (paid %s).", out.PlantCapacity, formatMicros(out.CostMicros)))
			printInfo("Next upgrade: " + formatMicros(out.NextCostMicros))
			printInfo("Balance: " + formatMicros(out.BalanceMicros))
			return nil
		},
	})
	return cmd
}

func newLedgerCmd(apiBase *string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Show recent balance and resource changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel, client, token, err := authed(cmd, apiBase)
			if err != nil {
				return err
			}
			defer cancel()
			entries, err := client.Ledger(ctx, token, limit)
			if err != nil {
				return err
			}
			renderLedger(entries)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries")
	return cmd
}

func parsePlantID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(strings.TrimSpace(s), "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid plant id %q", s)
	}
	return id, nil
}

// parsePosition reads "x,y"; an empty string means no position.
func parsePosition(s string) (*garden.Position, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return nil, fmt.Errorf("position must be x,y")
	}
	x, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid x: %w", err)
	}
	y, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid y: %w", err)
	}
	return &garden.Position{X: x, Y: y}, nil
}

func plantTypeNames() []string {
	out := make([]string, 0, len(garden.PlantTypes))
	for _, t := range garden.PlantTypes {
		out = append(out, string(t))
	}
	return out
}

func argOrPrompt(args []string, prompt func(string) (string, error), label string) (string, error) {
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		name := strings.TrimSpace(args[0])
		if err := garden.ValidateDisplayName(name); err != nil {
			return "", err
		}
		return name, nil
	}
	return prompt(label)
}
