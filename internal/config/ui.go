package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Panel module names.
const (
	ModuleFS     = "fs"
	ModuleRDM    = "rdm"
	ModuleStager = "stager"
)

// Module describes one browsable backend shown in a panel.
type Module struct {
	RootDir      string `yaml:"rootDir"`
	Cwd          string `yaml:"cwd"`
	DisplayName  string `yaml:"displayName"`
	PathLogin    string `yaml:"pathLogin"`
	PathLogout   string `yaml:"pathLogout"`
	PathListDir  string `yaml:"pathListDir"`
	PathMakeDir  string `yaml:"pathMakeDir"`
	HintLogin    string `yaml:"hintLogin"`
	ExampleLogin string `yaml:"exampleLogin"`
	PrefixTurl   string `yaml:"prefixTurl"`
}

// NeedsLogin reports whether the module asks for backend credentials.
func (m Module) NeedsLogin() bool {
	return m.PathLogin != ""
}

// UI holds the page text and panel layout.
type UI struct {
	Title        string            `yaml:"title"`
	TitleRequest string            `yaml:"titleRequest"`
	TitleHistory string            `yaml:"titleHistory"`
	Website      string            `yaml:"website"`
	Helpdesk     string            `yaml:"helpdesk"`
	LocalModule  string            `yaml:"localModule"`
	RemoteModule string            `yaml:"remoteModule"`
	Modules      map[string]Module `yaml:"modules"`
}

// DefaultUI returns the panel layout used when no file is configured.
func DefaultUI() UI {
	return UI{
		Title:        "Data Stager",
		TitleRequest: "Transfer requests",
		TitleHistory: "Transfer history",
		Website:      "https://www.ru.nl/donders",
		Helpdesk:     "mailto:helpdesk@donders.ru.nl",
		LocalModule:  ModuleFS,
		RemoteModule: ModuleRDM,
		Modules: map[string]Module{
			ModuleFS: {
				RootDir:     "/",
				DisplayName: "Local filesystem",
				PathListDir: "/fs/dir",
			},
			ModuleRDM: {
				RootDir:      "/",
				DisplayName:  "Research Data Management",
				PathLogin:    "/rdm/login",
				PathLogout:   "/rdm/logout",
				PathListDir:  "/rdm/dir",
				PathMakeDir:  "/rdm/mkdir",
				HintLogin:    "Use your data-access account",
				ExampleLogin: "username@ru.nl",
				PrefixTurl:   "irods:",
			},
			ModuleStager: {
				RootDir:      "/",
				DisplayName:  "Stager",
				PathLogin:    "/stager/login",
				PathLogout:   "/stager/logout",
				PathListDir:  "/stager/dir",
				HintLogin:    "Use your DCCN account",
				ExampleLogin: "username",
			},
		},
	}
}

// Module returns the named module and whether it is configured.
func (u UI) Module(name string) (Module, bool) {
	m, ok := u.Modules[name]
	return m, ok
}

// LoadUI reads a YAML panel layout. Fields missing from the file keep the
// defaults; modules in the file replace the default module of the same name.
func LoadUI(path string) (UI, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return UI{}, fmt.Errorf("read config file: %w", err)
	}

	ui := DefaultUI()
	defaults := ui.Modules
	ui.Modules = nil
	if err := yaml.Unmarshal(data, &ui); err != nil {
		return UI{}, fmt.Errorf("parse config file %s: %w", path, err)
	}

	merged := make(map[string]Module, len(defaults)+len(ui.Modules))
	for name, m := range defaults {
		merged[name] = m
	}
	for name, m := range ui.Modules {
		merged[name] = m
	}
	ui.Modules = merged

	for _, name := range []string{ui.LocalModule, ui.RemoteModule} {
		if _, ok := ui.Modules[name]; !ok {
			return UI{}, fmt.Errorf("config file %s: unknown module %q", path, name)
		}
	}
	return ui, nil
}
