package fusion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"nku/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func reading(value *float64, class types.SeverityClass, conf float64) *types.SensorReading {
	return &types.SensorReading{Value: value, Class: class, Confidence: conf}
}

type failingDetector struct{ m types.Modality }

func (d failingDetector) Modality() types.Modality { return d.m }
func (d failingDetector) Latest(context.Context) (types.SensorReading, error) {
	return types.SensorReading{}, errors.New("camera busy")
}

func fullDetectors() []Detector {
	return []Detector{
		StaticDetector{M: types.ModalityCardiac, Reading: reading(types.Float(72), "", 0.9)},
		StaticDetector{M: types.ModalityPallor, Reading: reading(types.Float(0.2), types.ClassNone, 0.8)},
		StaticDetector{M: types.ModalityJaundice, Reading: reading(types.Float(0.1), types.ClassNone, 0.8)},
		StaticDetector{M: types.ModalityEdema, Reading: reading(types.Float(0.1), types.ClassNone, 0.8)},
		StaticDetector{M: types.ModalityRespiratory, Reading: reading(nil, types.ClassNone, 0.6)},
	}
}

func TestUpdate_AllIncluded(t *testing.T) {
	f := New(fullDetectors(), nil)
	f.SetSymptoms([]string{"headache"})
	weeks := 30
	f.SetPregnancy(types.PregnancyContext{IsPregnant: true, GestationalWeeks: &weeks})

	snap := f.Update(context.Background())
	assert.True(t, snap.AllModalitiesComplete())
	assert.Equal(t, types.AllModalities, snap.Modalities())
	assert.Equal(t, []string{"headache"}, snap.Symptoms())
	assert.True(t, snap.Pregnancy().IsPregnant)
	assert.False(t, snap.CapturedAt().IsZero())
	assert.Equal(t, snap.Modalities(), f.Snapshot().Modalities())
}

func TestUpdate_BelowThresholdIsAbsentNotZero(t *testing.T) {
	dets := fullDetectors()
	dets[0] = StaticDetector{M: types.ModalityCardiac, Reading: reading(types.Float(130), "", 0.49)}
	f := New(dets, nil)

	snap := f.Update(context.Background())
	_, ok := snap.Reading(types.ModalityCardiac)
	assert.False(t, ok)
	assert.False(t, snap.AllModalitiesComplete())
	assert.Len(t, snap.Modalities(), 4)
}

func TestUpdate_ThresholdBoundaryAndOverrides(t *testing.T) {
	dets := []Detector{
		StaticDetector{M: types.ModalityRespiratory, Reading: reading(nil, types.ClassMild, 0.3)},
		StaticDetector{M: types.ModalityPallor, Reading: reading(nil, types.ClassMild, 0.45)},
	}
	f := New(dets, map[types.Modality]float64{types.ModalityPallor: 0.5})

	snap := f.Update(context.Background())
	_, ok := snap.Reading(types.ModalityRespiratory)
	assert.True(t, ok, "confidence equal to the threshold is included")
	_, ok = snap.Reading(types.ModalityPallor)
	assert.False(t, ok)
	assert.Equal(t, 0.5, f.Threshold(types.ModalityPallor))
	assert.Equal(t, 0.5, f.Threshold(types.ModalityCardiac))
}

func TestUpdate_ErrorsAndEmptyReadingsAreAbsent(t *testing.T) {
	f := New([]Detector{
		failingDetector{m: types.ModalityCardiac},
		StaticDetector{M: types.ModalityPallor},
		StaticDetector{M: types.ModalityEdema, Reading: reading(nil, "", 0.99)},
	}, nil)

	snap := f.Update(context.Background())
	assert.Empty(t, snap.Modalities())
	assert.False(t, snap.AllModalitiesComplete())
}

func TestUpdate_SnapshotsAreIndependent(t *testing.T) {
	r := reading(types.Float(72), "", 0.9)
	f := New([]Detector{StaticDetector{M: types.ModalityCardiac, Reading: r}}, nil)
	f.SetSymptoms([]string{"cough"})

	first := f.Update(context.Background())
	*r.Value = 140
	f.SetSymptoms([]string{"fever"})
	second := f.Update(context.Background())

	got, _ := first.Reading(types.ModalityCardiac)
	assert.Equal(t, 72.0, *got.Value)
	assert.Equal(t, []string{"cough"}, first.Symptoms())
	got, _ = second.Reading(types.ModalityCardiac)
	assert.Equal(t, 140.0, *got.Value)
}

func TestHasHighRiskIndicators(t *testing.T) {
	snap := func(preg bool, rs map[types.Modality]types.SensorReading) types.VitalsSnapshot {
		return types.NewVitalsSnapshot(rs, nil, types.PregnancyContext{IsPregnant: preg}, time.Now(), false)
	}
	hr := func(v float64) map[types.Modality]types.SensorReading {
		return map[types.Modality]types.SensorReading{types.ModalityCardiac: {Value: types.Float(v), Confidence: 0.9}}
	}
	class := func(m types.Modality, c types.SeverityClass) map[types.Modality]types.SensorReading {
		return map[types.Modality]types.SensorReading{m: {Class: c, Confidence: 0.9}}
	}

	cases := []struct {
		name string
		s    types.VitalsSnapshot
		want bool
	}{
		{"empty", snap(false, nil), false},
		{"hr 50", snap(false, hr(50)), false},
		{"hr 100", snap(false, hr(100)), false},
		{"hr 49", snap(false, hr(49)), true},
		{"hr 101", snap(false, hr(101)), true},
		{"pallor mild", snap(false, class(types.ModalityPallor, types.ClassMild)), false},
		{"pallor moderate", snap(false, class(types.ModalityPallor, types.ClassModerate)), true},
		{"pallor severe", snap(false, class(types.ModalityPallor, types.ClassSevere)), true},
		{"pallor significant", snap(false, class(types.ModalityPallor, types.ClassSignificant)), true},
		{"edema significant", snap(false, class(types.ModalityEdema, types.ClassSignificant)), true},
		{"edema severe", snap(false, class(types.ModalityEdema, types.ClassSevere)), true},
		{"edema moderate not pregnant", snap(false, class(types.ModalityEdema, types.ClassModerate)), false},
		{"edema moderate pregnant", snap(true, class(types.ModalityEdema, types.ClassModerate)), true},
		{"edema mild pregnant", snap(true, class(types.ModalityEdema, types.ClassMild)), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, HasHighRiskIndicators(tc.s))
		})
	}
}

func TestCaptureWindow(t *testing.T) {
	n := 0
	out, err := CaptureWindow(context.Background(), 60*time.Millisecond, 10*time.Millisecond, func(context.Context) (int, error) {
		n++
		return n, nil
	})
	require.NoError(t, err)
	assert.NotEmpty(t, out)
	assert.Equal(t, 1, out[0])
}

func TestCaptureWindow_CancelDiscardsPartialData(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	samples := 0
	out, err := CaptureWindow(ctx, time.Minute, 5*time.Millisecond, func(context.Context) (float64, error) {
		samples++
		if samples == 3 {
			cancel()
		}
		return 1, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, out)
}

func TestCaptureWindow_SampleError(t *testing.T) {
	_, err := CaptureWindow(context.Background(), time.Minute, 5*time.Millisecond, func(context.Context) (int, error) {
		return 0, errors.New("mic unplugged")
	})
	assert.EqualError(t, err, "mic unplugged")
}
