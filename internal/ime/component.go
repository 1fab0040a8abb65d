package ime

import (
	"encoding/xml"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// ComponentFileName is the IBus component file installed for henkan.
const ComponentFileName = "henkan.xml"

// ComponentConfig describes the IBus component registration.
type ComponentConfig struct {
	// ExecPath is the engine binary ibus-daemon starts.
	ExecPath string
	// ConfigPath is passed to the engine with --config when set.
	ConfigPath string
	Version    string
	IconPath   string
}

type ibusComponent struct {
	XMLName     xml.Name     `xml:"component"`
	Name        string       `xml:"name"`
	Description string       `xml:"description"`
	Exec        string       `xml:"exec"`
	Version     string       `xml:"version"`
	Author      string       `xml:"author"`
	License     string       `xml:"license"`
	Textdomain  string       `xml:"textdomain"`
	Engines     []ibusEngine `xml:"engines>engine"`
}

type ibusEngine struct {
	Name        string `xml:"name"`
	Language    string `xml:"language"`
	License     string `xml:"license"`
	Author      string `xml:"author"`
	Icon        string `xml:"icon,omitempty"`
	Layout      string `xml:"layout"`
	LongName    string `xml:"longname"`
	Description string `xml:"description"`
	Rank        int    `xml:"rank"`
	Symbol      string `xml:"symbol"`
}

// ComponentXML renders the component file. Two engines are registered: the
// US-layout engine and the Japanese-layout one.
func ComponentXML(cfg ComponentConfig) ([]byte, error) {
	if cfg.ExecPath == "" {
		return nil, fmt.Errorf("component: exec path is required")
	}
	if cfg.Version == "" {
		cfg.Version = "1.0"
	}
	execLine := cfg.ExecPath + " --ibus"
	if cfg.ConfigPath != "" {
		execLine += " --config " + cfg.ConfigPath
	}

	engine := func(name, layout, longName string, rank int) ibusEngine {
		return ibusEngine{
			Name:        name,
			Language:    "ja",
			License:     "BSD",
			Author:      "henkan",
			Icon:        cfg.IconPath,
			Layout:      layout,
			LongName:    longName,
			Description: "Japanese input method",
			Rank:        rank,
			Symbol:      "あ",
		}
	}

	c := ibusComponent{
		Name:        HenkanBusName,
		Description: "henkan Japanese input method",
		Exec:        execLine,
		Version:     cfg.Version,
		Author:      "henkan",
		License:     "BSD",
		Textdomain:  "henkan",
		Engines: []ibusEngine{
			engine(HenkanEngineName, "default", "Henkan", 80),
			engine(JapaneseLayoutEngine, "jp", "Henkan (JP layout)", 79),
		},
	}

	out, err := xml.MarshalIndent(c, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("component: %w", err)
	}
	return append([]byte(xml.Header), append(out, '\n')...), nil
}

// UserComponentDir is the per-user IBus component directory.
func UserComponentDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "share", "ibus", "component"), nil
}

// InstallComponent writes the component file into dir and returns its path.
func InstallComponent(dir string, cfg ComponentConfig) (string, error) {
	data, err := ComponentXML(cfg)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, ComponentFileName)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", err
	}
	return path, nil
}

// UninstallComponent removes the component file from dir.
func UninstallComponent(dir string) error {
	err := os.Remove(filepath.Join(dir, ComponentFileName))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// RestartIBus asks ibus-daemon to rescan its components.
func RestartIBus() error {
	if _, err := exec.LookPath("ibus"); err != nil {
		return fmt.Errorf("ibus command not found: %w", err)
	}
	return exec.Command("ibus", "restart").Run()
}
