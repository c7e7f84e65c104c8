package config

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"nftlend/native/bank"
	"nftlend/native/lending"
)

// ModuleFile is the TOML document holding the lending parameters and the
// genesis allocations applied to an empty store.
type ModuleFile struct {
	Lending lending.Params `toml:"lending"`
	Genesis bank.Genesis   `toml:"genesis"`
}

// LoadModule decodes path. An empty path yields defaults.
func LoadModule(path string) (ModuleFile, error) {
	var file ModuleFile
	if path != "" {
		meta, err := toml.DecodeFile(path, &file)
		if err != nil {
			return ModuleFile{}, fmt.Errorf("decode module file: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return ModuleFile{}, fmt.Errorf("decode module file: unknown key %s", undecoded[0])
		}
	}
	file.Lending.EnsureDefaults()
	if _, err := file.Lending.ConfigUpdate(); err != nil {
		return ModuleFile{}, fmt.Errorf("lending: %w", err)
	}
	if _, err := file.Lending.AdminAddresses(); err != nil {
		return ModuleFile{}, fmt.Errorf("lending: %w", err)
	}
	return file, nil
}
