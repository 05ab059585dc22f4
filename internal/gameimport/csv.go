package gameimport

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

var utf8BOM = []byte("\xef\xbb\xbf")

// MaxCSVSteps is the number of inline step_N_* column groups read per row.
// Longer games use the steps_json column or a JSON/YAML document.
const MaxCSVSteps = 20

type csvRow struct {
	line   int
	header map[string]int
	cells  []string
}

func (r csvRow) get(col string) string {
	i, ok := r.header[col]
	if !ok || i >= len(r.cells) {
		return ""
	}
	return strings.TrimSpace(r.cells[i])
}

func (r csvRow) intCell(col string) (*int, error) {
	raw := r.get(col)
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("row %d: %s must be an integer, got %q", r.line, col, raw)
	}
	return &n, nil
}

func (r csvRow) jsonCell(col string, dst any) error {
	raw := r.get(col)
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("row %d: %s: %w", r.line, col, err)
	}
	return nil
}

// parseCSV reads one game per data row. The first record is the header;
// unknown columns are ignored and blank rows are skipped.
func parseCSV(data []byte) ([]ParsedGame, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("invalid CSV: %w", err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("CSV must have a header and at least one game row")
	}
	header := map[string]int{}
	for i, col := range records[0] {
		header[strings.ToLower(strings.TrimSpace(col))] = i
	}
	if _, ok := header["game_key"]; !ok {
		return nil, fmt.Errorf("CSV header is missing game_key")
	}

	var games []ParsedGame
	for i, cells := range records[1:] {
		row := csvRow{line: i + 2, header: header, cells: cells}
		if blankRecord(cells) {
			continue
		}
		game, err := gameFromCSV(row)
		if err != nil {
			return nil, err
		}
		games = append(games, game)
	}
	return games, nil
}

func blankRecord(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func gameFromCSV(row csvRow) (ParsedGame, error) {
	game := ParsedGame{
		GameKey:          row.get("game_key"),
		Name:             row.get("name"),
		ShortDescription: row.get("short_description"),
		Description:      row.get("description"),
		PlayMode:         row.get("play_mode"),
		Status:           row.get("status"),
		Locale:           row.get("locale"),
	}
	declared, err := row.intCell("step_count")
	if err != nil {
		return game, err
	}
	if declared != nil && *declared > MaxCSVSteps {
		return game, fmt.Errorf("row %d: step_count %d exceeds the %d inline steps a CSV row holds; use steps_json or JSON", row.line, *declared, MaxCSVSteps)
	}

	for _, c := range []struct {
		col string
		dst any
	}{
		{"materials_json", &game.Materials},
		{"phases_json", &game.Phases},
		{"roles_json", &game.Roles},
		{"board_config_json", &game.BoardConfig},
		{"artifacts_json", &game.Artifacts},
		{"triggers_json", &game.Triggers},
	} {
		if err := row.jsonCell(c.col, c.dst); err != nil {
			return game, err
		}
	}

	for n := 1; n <= MaxCSVSteps; n++ {
		step, ok, err := inlineStep(row, n)
		if err != nil {
			return game, err
		}
		if ok {
			game.Steps = append(game.Steps, step)
		}
	}
	var extra []ParsedStep
	if err := row.jsonCell("steps_json", &extra); err != nil {
		return game, err
	}
	game.Steps = append(game.Steps, extra...)
	return game, nil
}

// inlineStep reads the step_N_* columns. A step without title and body is
// absent. Its order defaults to N.
func inlineStep(row csvRow, n int) (ParsedStep, bool, error) {
	prefix := "step_" + strconv.Itoa(n) + "_"
	title := row.get(prefix + "title")
	body := row.get(prefix + "body")
	if title == "" && body == "" {
		return ParsedStep{}, false, nil
	}
	step := ParsedStep{
		Title:        title,
		Body:         body,
		BoardText:    row.get(prefix + "board_text"),
		LeaderScript: row.get(prefix + "leader_script"),
	}
	var err error
	if step.StepOrder, err = row.intCell(prefix + "order"); err != nil {
		return step, false, err
	}
	if step.StepOrder == nil {
		order := n
		step.StepOrder = &order
	}
	if step.DurationSeconds, err = row.intCell(prefix + "duration"); err != nil {
		return step, false, err
	}
	if step.PhaseOrder, err = row.intCell(prefix + "phase_order"); err != nil {
		return step, false, err
	}
	return step, true, nil
}

// looksLikeCSV sniffs a header line that starts with the game_key column.
func looksLikeCSV(data []byte) bool {
	line := data
	if i := bytes.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = bytes.TrimPrefix(bytes.TrimSpace(line), utf8BOM)
	line = bytes.Trim(line, `"`)
	return bytes.HasPrefix(bytes.ToLower(line), []byte("game_key")) && bytes.Contains(line, []byte(","))
}
