package losstrack

import (
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"

	"fundarb/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// persister сохраняет состояние трекера в JSON-файл.
// Best-effort: ошибки логируются, но не останавливают работу -
// потеря файла стоит дешевле остановки кипера.
type persister struct {
	path   string
	logger *utils.Logger
}

// trackerState - сериализуемый снимок трекера
type trackerState struct {
	Entries []PositionEntry          `json:"entries"`
	Exits   []PositionExit           `json:"exits"`
	Current map[string]PositionEntry `json:"currentPositions"`
}

func newPersister(dataDir string, logger *utils.Logger) *persister {
	return &persister{
		path:   filepath.Join(dataDir, "losstrack.json"),
		logger: logger,
	}
}

// load читает состояние с диска. Отсутствующий файл - норма при
// первом запуске.
func (p *persister) load(entries *[]PositionEntry, exits *[]PositionExit, current map[string]*PositionEntry) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if !os.IsNotExist(err) {
			p.logger.Warn("loss tracker state unreadable", utils.Err(err))
		}
		return
	}

	var state trackerState
	if err := json.Unmarshal(data, &state); err != nil {
		p.logger.Warn("loss tracker state corrupted, starting fresh", utils.Err(err))
		return
	}

	*entries = state.Entries
	*exits = state.Exits
	for key, entry := range state.Current {
		entry := entry
		current[key] = &entry
	}
}

// save записывает состояние атомарно: временный файл + rename
func (p *persister) save(entries []PositionEntry, exits []PositionExit, current map[string]*PositionEntry) {
	state := trackerState{
		Entries: entries,
		Exits:   exits,
		Current: make(map[string]PositionEntry, len(current)),
	}
	for key, entry := range current {
		state.Current[key] = *entry
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		p.logger.Warn("loss tracker state marshal failed", utils.Err(err))
		return
	}

	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		p.logger.Warn("loss tracker data dir unavailable", utils.Err(err))
		return
	}

	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		p.logger.Warn("loss tracker state write failed", utils.Err(err))
		return
	}
	if err := os.Rename(tmp, p.path); err != nil {
		p.logger.Warn("loss tracker state rename failed", utils.Err(err))
	}
}
