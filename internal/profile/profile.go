// Package profile owns the persisted document: calibrated slot geometry and
// the named skill rotations. The whole document is saved after every
// mutation.
package profile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/verte-zerg/skillcast/internal/logging"
	"github.com/verte-zerg/skillcast/internal/model"
	"github.com/verte-zerg/skillcast/internal/screen"
)

var (
	// ErrConfigParse marks a document that could not be decoded.
	ErrConfigParse = errors.New("malformed profile document")
	// ErrSave marks a failed document write.
	ErrSave = errors.New("failed to save profile document")
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Store guards the document behind a single mutex. Readers get copies.
type Store struct {
	mu      sync.Mutex
	path    string
	doc     model.Document
	current string
	logger  *zap.Logger
}

// Load reads the document at path. A missing file is created empty, and a
// malformed one is replaced in memory by an empty document. Only a failure to
// create the missing file is returned, alongside a usable Store.
func Load(path, defaultProfile string, logger *zap.Logger) (*Store, error) {
	logger = logging.OrNop(logger)
	s := &Store{path: path, doc: model.NewDocument(), logger: logger}

	doc, err := readDocument(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logger.Info("profile document not found, creating", zap.String("path", path))
		if werr := writeDocument(path, s.doc); werr != nil {
			s.selectCurrent(defaultProfile)
			return s, werr
		}
	case err != nil:
		logger.Warn("profile document ignored", zap.String("path", path), zap.Error(err))
	default:
		s.doc = doc
	}
	s.selectCurrent(defaultProfile)
	return s, nil
}

func (s *Store) selectCurrent(defaultProfile string) {
	if _, ok := s.doc.Profiles[defaultProfile]; ok {
		s.current = defaultProfile
		return
	}
	if names := sortedNames(s.doc.Profiles); len(names) > 0 {
		s.current = names[0]
		return
	}
	s.current = defaultProfile
	s.doc.Profiles[defaultProfile] = []model.SkillAction{}
}

func readDocument(path string) (model.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Document{}, err
	}
	return Decode(data)
}

// Decode parses a document, tolerating a leading UTF-8 BOM.
func Decode(data []byte) (model.Document, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	var doc model.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return model.Document{}, fmt.Errorf("%w: %v", ErrConfigParse, err)
	}
	if doc.GlobalCoords == nil {
		doc.GlobalCoords = model.GlobalCoordinates{}
	}
	for key := range doc.GlobalCoords {
		if !model.IsSlotKey(key) {
			delete(doc.GlobalCoords, key)
		}
	}
	if doc.Profiles == nil {
		doc.Profiles = map[string][]model.SkillAction{}
	}
	for name, skills := range doc.Profiles {
		if skills == nil {
			doc.Profiles[name] = []model.SkillAction{}
		}
	}
	return doc, nil
}

// Encode serializes a document with two-space indentation.
func Encode(doc model.Document) ([]byte, error) {
	if doc.GlobalCoords == nil {
		doc.GlobalCoords = model.GlobalCoordinates{}
	}
	if doc.Profiles == nil {
		doc.Profiles = map[string][]model.SkillAction{}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func writeDocument(path string, doc model.Document) error {
	data, err := Encode(doc)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSave, err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrSave, err)
	}
	tmpFile, err := os.CreateTemp(dir, "profiles-*.json")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSave, err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}()
	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("%w: %v", ErrSave, err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrSave, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("%w: %v", ErrSave, err)
	}
	return nil
}

// Path returns the document location.
func (s *Store) Path() string {
	return s.path
}

// Save writes the full document.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	if err := writeDocument(s.path, s.doc); err != nil {
		s.logger.Error("profile document not saved", zap.String("path", s.path), zap.Error(err))
		return err
	}
	return nil
}

// Document returns a deep copy of the document.
func (s *Store) Document() model.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Clone()
}

// CurrentProfile returns the active profile name.
func (s *Store) CurrentProfile() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Profiles returns the profile names in sorted order.
func (s *Store) Profiles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedNames(s.doc.Profiles)
}

// Skills returns a copy of the named profile's sequence.
func (s *Store) Skills(profile string) []model.SkillAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.CloneSkills(s.doc.Profiles[profile])
}

// CurrentSkills returns a copy of the active profile's sequence.
func (s *Store) CurrentSkills() []model.SkillAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.CloneSkills(s.doc.Profiles[s.current])
}

// Coords returns a copy of the calibrated geometry.
func (s *Store) Coords() model.GlobalCoordinates {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.GlobalCoords.Clone()
}

// SetCurrentProfile switches the active profile, creating it empty if it is
// new. Switching to the current profile does nothing.
func (s *Store) SetCurrentProfile(name string) (bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return false, fmt.Errorf("profile name is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if name == s.current {
		return false, nil
	}
	s.current = name
	if _, ok := s.doc.Profiles[name]; !ok {
		s.doc.Profiles[name] = []model.SkillAction{}
	}
	return true, s.saveLocked()
}

// AddSkill appends a skill to profile. When the key's slot is calibrated the
// geometry is copied and both points are sampled as the reference colors.
func (s *Store) AddSkill(profile, name, key string, delay int, sampler screen.Sampler) (model.SkillAction, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.SkillAction{}, fmt.Errorf("skill name is empty")
	}
	key = strings.ToUpper(strings.TrimSpace(key))
	if key == "" {
		return model.SkillAction{}, fmt.Errorf("skill key is empty")
	}
	if delay < 0 {
		return model.SkillAction{}, fmt.Errorf("skill delay must be >= 0")
	}
	if strings.TrimSpace(profile) == "" {
		return model.SkillAction{}, fmt.Errorf("profile name is empty")
	}

	s.mu.Lock()
	geom, calibrated := s.doc.GlobalCoords[key]
	s.mu.Unlock()

	skill := model.SkillAction{Name: name, Key: key, Delay: delay}
	if calibrated {
		skill.CX, skill.CY = geom.CX, geom.CY
		skill.P11X, skill.P11Y = geom.P11X, geom.P11Y
		if refs, err := sampleRefs(sampler, geom); err != nil {
			s.logger.Warn("reference colors not captured", zap.String("key", key), zap.Error(err))
		} else {
			skill.Refs = refs
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Profiles[profile] = append(s.doc.Profiles[profile], skill)
	return cloneSkill(skill), s.saveLocked()
}

func sampleRefs(sampler screen.Sampler, geom model.SlotGeometry) (refs *model.ReferenceColors, err error) {
	if sampler == nil {
		return nil, fmt.Errorf("%w: no sampler", screen.ErrCapture)
	}
	defer func() {
		if rec := recover(); rec != nil {
			refs = nil
			err = fmt.Errorf("%w: %v", screen.ErrCapture, rec)
		}
	}()
	center, err := sampler.Sample(geom.CX, geom.CY)
	if err != nil {
		return nil, err
	}
	offset, err := sampler.Sample(geom.P11X, geom.P11Y)
	if err != nil {
		return nil, err
	}
	return &model.ReferenceColors{Center: center, Offset: offset}, nil
}

// DeleteSkill removes the skill at index. An out-of-range index does nothing.
func (s *Store) DeleteSkill(profile string, index int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	skills := s.doc.Profiles[profile]
	if index < 0 || index >= len(skills) {
		return false, nil
	}
	s.doc.Profiles[profile] = append(skills[:index:index], skills[index+1:]...)
	return true, s.saveLocked()
}

// MergeCoords overwrites the geometry of every slot in coords and saves.
// Unknown slot keys are ignored.
func (s *Store) MergeCoords(coords model.GlobalCoordinates) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, geom := range coords {
		if !model.IsSlotKey(key) {
			continue
		}
		s.doc.GlobalCoords[key] = geom
	}
	return s.saveLocked()
}

func cloneSkill(skill model.SkillAction) model.SkillAction {
	return model.CloneSkills([]model.SkillAction{skill})[0]
}

func sortedNames(profiles map[string][]model.SkillAction) []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
