package main

import "github.com/BurntSushi/toml"

// loadTOMLConfig decodes path into cli, overwriting only the fields the
// file actually sets; any flag not mentioned keeps its kong-parsed value.
func loadTOMLConfig(path string, cli *CLI) error {
	_, err := toml.DecodeFile(path, cli)
	return err
}
