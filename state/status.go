package state

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownStatus = errors.New("unknown status")

// AlarmStatus is the single global threat level of the house.
type AlarmStatus int

const (
	NoAlarm AlarmStatus = iota
	PendingAlarm
	Alarm
)

var alarmNames = map[AlarmStatus]string{
	NoAlarm:      "NO_ALARM",
	PendingAlarm: "PENDING_ALARM",
	Alarm:        "ALARM",
}

var alarmDescriptions = map[AlarmStatus]string{
	NoAlarm:      "Cool and Good",
	PendingAlarm: "I'm in Danger...",
	Alarm:        "Awooga!",
}

func (s AlarmStatus) String() string {
	if name, ok := alarmNames[s]; ok {
		return name
	}
	return fmt.Sprintf("AlarmStatus(%d)", int(s))
}

// Description is the text shown on the dashboard for this status.
func (s AlarmStatus) Description() string {
	return alarmDescriptions[s]
}

func (s AlarmStatus) MarshalText() ([]byte, error) {
	name, ok := alarmNames[s]
	if !ok {
		return nil, fmt.Errorf("%w: alarm status %d", ErrUnknownStatus, int(s))
	}
	return []byte(name), nil
}

func (s *AlarmStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseAlarmStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func ParseAlarmStatus(text string) (AlarmStatus, error) {
	wanted := strings.ToUpper(strings.TrimSpace(text))
	for status, name := range alarmNames {
		if name == wanted {
			return status, nil
		}
	}
	return NoAlarm, fmt.Errorf("%w: alarm status %q", ErrUnknownStatus, text)
}

// ArmingStatus is whether the system is watching for intrusion, and how.
type ArmingStatus int

const (
	Disarmed ArmingStatus = iota
	ArmedHome
	ArmedAway
)

var armingNames = map[ArmingStatus]string{
	Disarmed:  "DISARMED",
	ArmedHome: "ARMED_HOME",
	ArmedAway: "ARMED_AWAY",
}

var armingDescriptions = map[ArmingStatus]string{
	Disarmed:  "Disarmed",
	ArmedHome: "Armed - At Home",
	ArmedAway: "Armed - Away",
}

// ArmingStatuses lists every arming status in display order.
func ArmingStatuses() []ArmingStatus {
	return []ArmingStatus{Disarmed, ArmedHome, ArmedAway}
}

func (s ArmingStatus) String() string {
	if name, ok := armingNames[s]; ok {
		return name
	}
	return fmt.Sprintf("ArmingStatus(%d)", int(s))
}

func (s ArmingStatus) Description() string {
	return armingDescriptions[s]
}

// Armed reports whether the status is one of the armed modes.
func (s ArmingStatus) Armed() bool {
	return s == ArmedHome || s == ArmedAway
}

func (s ArmingStatus) MarshalText() ([]byte, error) {
	name, ok := armingNames[s]
	if !ok {
		return nil, fmt.Errorf("%w: arming status %d", ErrUnknownStatus, int(s))
	}
	return []byte(name), nil
}

func (s *ArmingStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseArmingStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func ParseArmingStatus(text string) (ArmingStatus, error) {
	wanted := strings.ToUpper(strings.TrimSpace(text))
	for status, name := range armingNames {
		if name == wanted {
			return status, nil
		}
	}
	return Disarmed, fmt.Errorf("%w: arming status %q", ErrUnknownStatus, text)
}
