package cli

import (
	"fmt"
	"os"

	"github.com/casaline/casachat/internal/cache"
	"github.com/casaline/casachat/internal/config"
)

// RunStatus displays the current configuration status with styled output.
func RunStatus(cfg *config.Config) {
	cfgPath := config.ConfigPath()

	fmt.Println()
	fmt.Println(TitleStyle.Render(fmt.Sprintf("  %s casachat Status", Logo)))
	fmt.Println()

	fmt.Printf("  %-12s %s  %s\n", "Config", StatusBadge(fileExists(cfgPath)), DimStyle.Render(cfgPath))
	fmt.Printf("  %-12s %s  %s\n", "Server", StatusBadge(cfg.Server.Token != ""), DimStyle.Render(cfg.Server.URL))
	fmt.Printf("  %-12s %s  %s\n", "Marketplace", StatusBadge(cfg.Marketplace.BaseURL != ""), DimStyle.Render(cfg.Marketplace.BaseURL))
	fmt.Println()

	fmt.Println("  " + BoldStyle.Render("Identity"))
	fmt.Printf("    %s  user %s (%s)\n", StatusBadge(cfg.Identity.UserID != ""), orUnset(cfg.Identity.UserID), cfg.Identity.Role)
	fmt.Println()

	fmt.Println("  " + BoldStyle.Render("Conversation"))
	fmt.Printf("    %s  room %s\n", StatusBadge(cfg.Chat.RoomID != ""), orUnset(cfg.Chat.RoomID))
	fmt.Printf("    %s  counterpart %s\n", StatusBadge(cfg.Chat.CounterpartID != ""), orUnset(cfg.Chat.CounterpartID))
	fmt.Println()

	fmt.Println("  " + BoldStyle.Render("Cache"))
	cachePath := cfg.CacheFile()
	fmt.Printf("    %s  %s\n", StatusBadge(fileExists(cachePath)), DimStyle.Render(cachePath))
	if rooms := cachedRooms(cachePath); rooms != nil {
		fmt.Printf("       %s\n", DimStyle.Render(fmt.Sprintf("%d cached room(s)", len(rooms))))
	}
	fmt.Println()
}

func cachedRooms(path string) []string {
	if !fileExists(path) {
		return nil
	}
	c, err := cache.Open(path)
	if err != nil {
		return nil
	}
	defer c.Close()
	rooms, err := c.Rooms()
	if err != nil {
		return nil
	}
	return rooms
}

func orUnset(s string) string {
	if s == "" {
		return DimStyle.Render("unset")
	}
	return s
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
