package mqttc

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// Topic validation errors.
var (
	ErrInvalidTopicName   = errors.New("mqttc: invalid topic name")
	ErrInvalidTopicFilter = errors.New("mqttc: invalid topic filter")
	ErrEmptyTopic         = errors.New("mqttc: topic cannot be empty")
)

const (
	topicSeparator      = '/'
	singleLevelWildcard = '+'
	multiLevelWildcard  = '#'
)

// ValidateTopicName checks a topic name used in PUBLISH: non-empty UTF-8 of
// at most 65535 bytes, without wildcards or NUL (MQTT 3.1.1 section 4.7).
func ValidateTopicName(topic string) error {
	if topic == "" {
		return ErrEmptyTopic
	}

	if len(topic) > maxUint16 || !utf8.ValidString(topic) {
		return ErrInvalidTopicName
	}

	if strings.ContainsAny(topic, "\x00+#") {
		return ErrInvalidTopicName
	}

	return nil
}

// ValidateTopicFilter checks a topic filter used in SUBSCRIBE and
// UNSUBSCRIBE. Wildcards must occupy a whole level and '#' must be last.
func ValidateTopicFilter(filter string) error {
	if filter == "" {
		return ErrEmptyTopic
	}

	if len(filter) > maxUint16 || !utf8.ValidString(filter) || strings.ContainsRune(filter, 0) {
		return ErrInvalidTopicFilter
	}

	levels := strings.Split(filter, string(topicSeparator))

	for i, level := range levels {
		if strings.ContainsRune(level, singleLevelWildcard) && level != string(singleLevelWildcard) {
			return ErrInvalidTopicFilter
		}

		if strings.ContainsRune(level, multiLevelWildcard) {
			if level != string(multiLevelWildcard) || i != len(levels)-1 {
				return ErrInvalidTopicFilter
			}
		}
	}

	return nil
}

// TopicMatch reports whether topic matches filter. Topics starting with '$'
// are not matched by a leading wildcard.
func TopicMatch(filter, topic string) bool {
	if filter == "" || topic == "" {
		return false
	}

	if topic[0] == '$' && (filter[0] == singleLevelWildcard || filter[0] == multiLevelWildcard) {
		return false
	}

	return matchLevels(filter, topic)
}

// matchLevels walks both strings level by level without splitting them. An
// index past the end means every level, including a trailing empty one, was
// consumed.
func matchLevels(filter, topic string) bool {
	fi, ti := 0, 0
	flen, tlen := len(filter), len(topic)

	for fi <= flen {
		fstart := fi
		for fi < flen && filter[fi] != topicSeparator {
			fi++
		}
		flevel := filter[fstart:fi]

		// "#" also matches the parent level: "a/#" matches "a".
		if flevel == "#" {
			return true
		}

		if ti > tlen {
			return false
		}

		tstart := ti
		for ti < tlen && topic[ti] != topicSeparator {
			ti++
		}
		tlevel := topic[tstart:ti]

		if flevel != "+" && flevel != tlevel {
			return false
		}

		fi++
		ti++
	}

	return ti > tlen
}

// IsSystemTopic returns true for broker topics under $SYS.
func IsSystemTopic(topic string) bool {
	return strings.HasPrefix(topic, "$SYS/") || topic == "$SYS"
}
