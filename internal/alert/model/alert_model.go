package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/go-driftd/driftd/internal/byteutil"
	metricModel "github.com/go-driftd/driftd/internal/metric/model"
)

type Level string

const (
	LevelInfo      Level = "info"
	LevelWarning   Level = "warning"
	LevelCritical  Level = "critical"
	LevelEmergency Level = "emergency"
)

func Rank(l Level) int {
	switch l {
	case LevelEmergency:
		return 3
	case LevelCritical:
		return 2
	case LevelWarning:
		return 1
	case LevelInfo:
		return 0
	default:
		return -1
	}
}

// DeriveID produces the stable alert identity for one
// (metric, unit, time bucket) triple, so repeated trips of the same
// threshold inside a bucket collapse onto one alert.
func DeriveID(metricType metricModel.Type, unitID string, at time.Time, bucket time.Duration) string {
	buffer := byteutil.GetBytesBuf()
	defer byteutil.PutBytesBuf(buffer)

	buffer.WriteString(string(metricType))
	buffer.WriteByte('|')
	buffer.WriteString(unitID)
	buffer.WriteByte('|')
	buffer.WriteString(strconv.FormatInt(at.Truncate(bucket).Unix(), 10))

	sum := sha256.Sum256(buffer.Bytes())
	return hex.EncodeToString(sum[:16])
}

func NewAlert(level Level, metricType metricModel.Type, unitID, message string, value, trigger float64, bucket time.Duration) Alert {
	now := time.Now().UTC()
	return Alert{
		ID:         DeriveID(metricType, unitID, now, bucket),
		Level:      level,
		MetricType: metricType,
		UnitID:     unitID,
		Message:    message,
		Value:      value,
		Threshold:  trigger,
		CreatedAt:  now,
	}
}

// Alert lifecycle: created -> active -> resolved. Resolved alerts leave
// the active set but stay in the historical ledger.
type Alert struct {
	ID         string           `json:"id"`
	Level      Level            `json:"level"`
	MetricType metricModel.Type `json:"metricType"`
	UnitID     string           `json:"unitId,omitempty"`
	Message    string           `json:"message"`
	Value      float64          `json:"value"`
	Threshold  float64          `json:"threshold"`
	CreatedAt  time.Time        `json:"createdAt"`
	Resolved   bool             `json:"resolved"`
	ResolvedAt *time.Time       `json:"resolvedAt,omitempty"`
}

func (a Alert) IsActive() bool {
	return !a.Resolved
}
