package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/elijahnyp/home_security/state"
)

const filePermissions = 0o600

type document struct {
	ArmingStatus state.ArmingStatus `yaml:"arming_status"`
	AlarmStatus  state.AlarmStatus  `yaml:"alarm_status"`
	Sensors      []state.Sensor     `yaml:"sensors"`
}

// File is a Memory store that rewrites a YAML document after every
// mutation, so the house comes back in the same state after a restart.
type File struct {
	*Memory
	path string
}

// OpenFile loads the document at path. A missing file starts an empty store.
func OpenFile(path string) (*File, error) {
	f := &File{
		Memory: NewMemory(),
		path:   filepath.Clean(path),
	}

	contents, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return f, nil
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}

	var doc document
	if err := yaml.Unmarshal(contents, &doc); err != nil {
		return nil, fmt.Errorf("decode state file: %w", err)
	}
	f.arming = doc.ArmingStatus
	f.alarm = doc.AlarmStatus
	for _, s := range doc.Sensors {
		f.sensors[s.Key()] = s
	}
	return f, nil
}

func (f *File) Path() string {
	return f.path
}

func (f *File) SetArmingStatus(status state.ArmingStatus) error {
	if err := f.Memory.SetArmingStatus(status); err != nil {
		return err
	}
	return f.save()
}

func (f *File) SetAlarmStatus(status state.AlarmStatus) error {
	if err := f.Memory.SetAlarmStatus(status); err != nil {
		return err
	}
	return f.save()
}

func (f *File) AddSensor(sensor state.Sensor) error {
	if err := f.Memory.AddSensor(sensor); err != nil {
		return err
	}
	return f.save()
}

func (f *File) RemoveSensor(sensor state.Sensor) error {
	if err := f.Memory.RemoveSensor(sensor); err != nil {
		return err
	}
	return f.save()
}

func (f *File) UpdateSensor(sensor state.Sensor) error {
	if err := f.Memory.UpdateSensor(sensor); err != nil {
		return err
	}
	return f.save()
}

// save writes to a temp file first so a crash never leaves half a document.
func (f *File) save() error {
	f.mu.RLock()
	doc := document{
		ArmingStatus: f.arming,
		AlarmStatus:  f.alarm,
		Sensors:      f.sortedSensors(),
	}
	f.mu.RUnlock()

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write state file: %w", err)
	}
	if err := tmp.Chmod(filePermissions); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
