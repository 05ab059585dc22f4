package gameimport_test

import (
	"strings"
	"testing"

	"playline/internal/gameimport"
)

func TestParseJSONShapes(t *testing.T) {
	single := `{"game_key":"a","name":"A","triggers":[{"condition_type":"manual","actions":[{"type":"advance_step"}]}]}`
	games, err := gameimport.Parse([]byte(single), "")
	if err != nil || len(games) != 1 || games[0].Triggers[0].ConditionType != "manual" {
		t.Fatalf("single: %+v %v", games, err)
	}
	list := `[{"game_key":"a","name":"A"},{"game_key":"b","name":"B"}]`
	games, err = gameimport.Parse([]byte(list), gameimport.FormatJSON)
	if err != nil || len(games) != 2 {
		t.Fatalf("list: %+v %v", games, err)
	}
	wrapped := `{"games":[{"game_key":"c","name":"C"}]}`
	games, err = gameimport.Parse([]byte(wrapped), "")
	if err != nil || len(games) != 1 || games[0].GameKey != "c" {
		t.Fatalf("wrapped: %+v %v", games, err)
	}
}

func TestParseYAML(t *testing.T) {
	doc := `
game_key: yaml-game
name: From YAML
steps:
  - step_order: 1
    title: One
triggers:
  - name: go
    condition:
      type: step_started
      stepOrder: 1
    actions:
      - type: advance_step
`
	games, err := gameimport.Parse([]byte(doc), gameimport.FormatFromPath("game.yml"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	trig := games[0].Triggers[0]
	if trig.Condition["type"] != "step_started" || trig.Condition["stepOrder"] != 1 {
		t.Fatalf("condition = %+v", trig.Condition)
	}
	if *games[0].Steps[0].StepOrder != 1 {
		t.Fatalf("step order lost")
	}
}

func TestParseRejectsEmpty(t *testing.T) {
	if _, err := gameimport.Parse([]byte("  "), ""); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := gameimport.Parse([]byte("[]"), ""); err == nil {
		t.Fatalf("expected error for no games")
	}
	if _, err := gameimport.Parse([]byte("{}"), "toml"); err == nil {
		t.Fatalf("expected unsupported format")
	}
}

const quizCSV = `game_key,name,locale,phases_json,step_1_title,step_1_body,step_1_duration,step_1_phase_order,step_2_title,step_2_body
quiz,Quiz night,sv-SE,"[{""phase_order"":1,""name"":""Round one""}]",Warm up,Say hello,60,1,Questions,Ask them
,,,,,,,,,
relay,Relay,,,Run,,,,,
`

func TestParseCSV(t *testing.T) {
	games, err := gameimport.Parse([]byte(quizCSV), gameimport.FormatFromPath("games.CSV"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(games) != 2 {
		t.Fatalf("games = %d", len(games))
	}
	quiz := games[0]
	if quiz.GameKey != "quiz" || quiz.Name != "Quiz night" || quiz.Locale != "sv-SE" {
		t.Fatalf("identity = %+v", quiz)
	}
	if len(quiz.Phases) != 1 || quiz.Phases[0].Name != "Round one" {
		t.Fatalf("phases = %+v", quiz.Phases)
	}
	if len(quiz.Steps) != 2 {
		t.Fatalf("steps = %+v", quiz.Steps)
	}
	first := quiz.Steps[0]
	if *first.StepOrder != 1 || first.Body != "Say hello" || *first.DurationSeconds != 60 || *first.PhaseOrder != 1 {
		t.Fatalf("step 1 = %+v", first)
	}
	if *quiz.Steps[1].StepOrder != 2 || quiz.Steps[1].PhaseOrder != nil {
		t.Fatalf("step 2 = %+v", quiz.Steps[1])
	}
	if games[1].GameKey != "relay" || len(games[1].Steps) != 1 {
		t.Fatalf("relay = %+v", games[1])
	}

	sniffed, err := gameimport.Parse([]byte(quizCSV), "")
	if err != nil || len(sniffed) != 2 {
		t.Fatalf("sniffed csv: %d %v", len(sniffed), err)
	}
}

func TestParseCSVErrors(t *testing.T) {
	cases := map[string]string{
		"missing game_key":       "name\nQuiz\n",
		"at least one game row":  "game_key,name\n",
		"row 2: step_1_duration": "game_key,name,step_1_title,step_1_duration\nq,Q,One,soon\n",
		"row 2: roles_json":      "game_key,name,roles_json\nq,Q,not json\n",
		"step_count 21":          "game_key,name,step_count\nq,Q,21\n",
	}
	for want, doc := range cases {
		_, err := gameimport.Parse([]byte(doc), gameimport.FormatCSV)
		if err == nil || !strings.Contains(err.Error(), want) {
			t.Fatalf("%s: got %v", want, err)
		}
	}
}
