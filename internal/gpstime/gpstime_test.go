package gpstime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCountLeapSeconds(t *testing.T) {
	assert.Equal(t, 0.0, CountLeapSeconds(0))
	assert.Equal(t, 1.0, CountLeapSeconds(46828800))
	assert.Equal(t, 0.0, CountLeapSeconds(46828799))
	// ATLAS SDP 历元（2018-01-01）之后共 18 个闰秒
	assert.Equal(t, 18.0, CountLeapSeconds(1198800018))
}

func TestToUTCAtGPSEpoch(t *testing.T) {
	assert.Equal(t, time.Date(1980, 1, 6, 0, 0, 0, 0, time.UTC), ToUTC(0))
}

func TestToUTCAtSDPEpoch(t *testing.T) {
	// 2018-01-01T00:00:00Z 对应 GPS 秒 1198800018（含 18 闰秒）
	got := ToUTC(1198800018)
	assert.Equal(t, time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC), got)
}

func TestCoverage(t *testing.T) {
	start, end, dur := Coverage(1198800018, 0, 86400)
	assert.Equal(t, time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2018, 1, 2, 0, 0, 0, 0, time.UTC), end)
	assert.Equal(t, 86400.0, dur)
}
