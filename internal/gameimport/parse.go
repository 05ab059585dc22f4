package gameimport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	FormatJSON = "json"
	FormatYAML = "yaml"
	FormatCSV  = "csv"
)

// FormatFromPath picks the format from a file extension, defaulting to JSON.
func FormatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		return FormatYAML
	case ".csv":
		return FormatCSV
	default:
		return FormatJSON
	}
}

type gameList struct {
	Games []ParsedGame `json:"games" yaml:"games"`
}

// Parse decodes an import document. JSON and YAML accept a single game, a
// list of games or an object with a "games" list; CSV holds one game per row.
// An empty format sniffs the input.
func Parse(data []byte, format string) ([]ParsedGame, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("import document is empty")
	}
	if format == "" {
		switch {
		case trimmed[0] == '{' || trimmed[0] == '[':
			format = FormatJSON
		case looksLikeCSV(trimmed):
			format = FormatCSV
		default:
			format = FormatYAML
		}
	}
	var (
		games []ParsedGame
		err   error
	)
	switch format {
	case FormatJSON:
		games, err = parseJSON(trimmed)
	case FormatYAML:
		games, err = parseYAML(trimmed)
	case FormatCSV:
		games, err = parseCSV(trimmed)
	default:
		return nil, fmt.Errorf("unsupported import format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", format, err)
	}
	if len(games) == 0 {
		return nil, fmt.Errorf("import document contains no games")
	}
	return games, nil
}

func parseJSON(data []byte) ([]ParsedGame, error) {
	if data[0] == '[' {
		var games []ParsedGame
		return games, json.Unmarshal(data, &games)
	}
	var list gameList
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, err
	}
	if len(list.Games) > 0 {
		return list.Games, nil
	}
	var game ParsedGame
	if err := json.Unmarshal(data, &game); err != nil {
		return nil, err
	}
	return []ParsedGame{game}, nil
}

func parseYAML(data []byte) ([]ParsedGame, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, err
	}
	if len(node.Content) == 0 {
		return nil, nil
	}
	root := node.Content[0]
	if root.Kind == yaml.SequenceNode {
		var games []ParsedGame
		return games, root.Decode(&games)
	}
	var list gameList
	if err := root.Decode(&list); err != nil {
		return nil, err
	}
	if len(list.Games) > 0 {
		return list.Games, nil
	}
	var game ParsedGame
	if err := root.Decode(&game); err != nil {
		return nil, err
	}
	return []ParsedGame{game}, nil
}
