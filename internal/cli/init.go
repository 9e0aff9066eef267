package cli

import (
	"fmt"
	"os"

	"github.com/casaline/casachat/internal/config"
)

// RunInit writes a starter config file unless one already exists.
func RunInit() error {
	cfgPath := config.ConfigPath()

	fmt.Println()
	fmt.Println(TitleStyle.Render(fmt.Sprintf("  %s casachat Init", Logo)))
	fmt.Println()

	if _, err := os.Stat(cfgPath); err == nil {
		fmt.Println("  " + ErrStyle.Render("Config already exists: ") + DimStyle.Render(cfgPath))
		fmt.Println("  " + DimStyle.Render("Edit it directly, or remove it and run init again."))
		fmt.Println()
		return nil
	}

	if err := config.Save(config.DefaultConfig()); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	fmt.Println("  " + OkStyle.Render("✓") + " Wrote " + DimStyle.Render(cfgPath))
	fmt.Println()
	fmt.Println("  " + BoldStyle.Render("Next steps:"))
	fmt.Println(DimStyle.Render("  1. Set server.token and identity.userId"))
	fmt.Println(DimStyle.Render("  2. Set chat.roomId, or chat.counterpartId and chat.propertyId to open a new conversation"))
	fmt.Println(DimStyle.Render("  3. Run: casachat"))
	fmt.Println()
	return nil
}
