package main

import (
	"context"
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ebongard/renfield/internal/config"
	"github.com/ebongard/renfield/internal/roomprefs"
	"github.com/ebongard/renfield/internal/store/pg"
)

// onboardCmd runs a first-run wizard that seeds a room and its first
// output preference, the minimum Postgres state an otherwise-empty
// install needs before the Output Router (spec §4.11) has anything to
// route to. There is no prior-art wizard in this codebase's history to
// adapt from, so the form is built directly against huh's documented
// API (huh.NewForm/huh.NewGroup/huh.NewInput et al.).
func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Interactively seed the first room and output preference",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnboard()
		},
	}
}

func runOnboard() error {
	var (
		roomName       string
		deviceID       string
		priority       string = "0"
		allowInterrupt bool
		volume         string = "1.0"
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Room name").
				Description("e.g. \"kitchen\", \"living room\"").
				Value(&roomName).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("room name cannot be empty")
					}
					return nil
				}),
			huh.NewInput().
				Title("First Renfield device ID for this room").
				Description("leave empty if no device is registered yet").
				Value(&deviceID),
			huh.NewInput().
				Title("Priority").
				Description("lower numbers are preferred when multiple outputs are available").
				Value(&priority),
			huh.NewConfirm().
				Title("Allow this output to be interrupted by higher-priority audio?").
				Value(&allowInterrupt),
			huh.NewInput().
				Title("Volume (0.0-1.0)").
				Value(&volume),
		),
	)

	if err := form.Run(); err != nil {
		return fmt.Errorf("onboarding form: %w", err)
	}

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()
	pool, err := pg.Open(ctx, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	rooms := pg.NewRoomStore(pool)
	roomID := uuid.NewString()
	if err := rooms.UpsertRoom(ctx, roomID, roomName); err != nil {
		return fmt.Errorf("create room: %w", err)
	}

	var prio int
	fmt.Sscanf(priority, "%d", &prio)
	var vol float64
	fmt.Sscanf(volume, "%f", &vol)

	pref := roomprefs.Preference{
		RenfieldDeviceID:  deviceID,
		Priority:          prio,
		AllowInterruption: allowInterrupt,
		Volume:            vol,
		Enabled:           true,
	}
	if err := rooms.AddPreference(ctx, uuid.NewString(), roomID, pref); err != nil {
		return fmt.Errorf("add output preference: %w", err)
	}

	fmt.Printf("Room %q (%s) seeded with one output preference.\n", roomName, roomID)
	fmt.Println("Run `renfieldd serve` to start the daemon.")
	return nil
}
