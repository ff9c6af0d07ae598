package histogram

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dvhanalytics/internal/models"
)

// rawRow builds a raw DVHs row with the given histogram string.
func rawRow(mrn, dvh string, rx models.Number) models.RawRecord {
	return models.RawRecord{
		MRN:              mrn,
		StudyInstanceUID: "uid-" + mrn,
		ROIName:          "rectum",
		ROIType:          "OAR",
		DVHString:        dvh,
		VolumeCC:         models.Num(50),
		RxDoseGy:         rx,
		SimStudyDate:     "2019-03-04",
	}
}

func TestBuildNormalizesAndPads(t *testing.T) {
	rows := []models.RawRecord{
		rawRow("a", "200,200,100,50", models.Num(60)),
		rawRow("b", "10,5", models.Num(70)),
		rawRow("c", "0,0,0", models.Missing()),
	}

	cohort, err := Build(rows, 1)
	require.NoError(t, err)

	assert.Equal(t, 3, cohort.Count())
	assert.Equal(t, 4, cohort.BinCount)
	assert.Equal(t, 1, cohort.BinWidth)
	assert.Equal(t, []float64{1, 1, 0.5, 0.25}, cohort.Records[0].Bins)
	assert.Equal(t, []float64{1, 0.5, 0, 0}, cohort.Records[1].Bins)
	assert.Equal(t, []float64{0, 0, 0, 0}, cohort.Records[2].Bins)

	// metadata stays aligned with the bins
	assert.Equal(t, "b", cohort.Records[1].MRN)
	assert.Equal(t, models.Num(70), cohort.Records[1].RxDoseGy)
	assert.False(t, cohort.Records[2].RxDoseGy.Valid)
	assert.True(t, cohort.Records[0].HasSimStudyDate)
}

func TestBuildNormalizationInvariant(t *testing.T) {
	rows := []models.RawRecord{
		rawRow("a", "3,2.5,2,1", models.Num(1)),
		rawRow("b", "0.9,0.9,0.1", models.Num(1)),
		rawRow("c", "0,0", models.Num(1)),
	}
	cohort, err := Build(rows, 1)
	require.NoError(t, err)

	for _, rec := range cohort.Records {
		maxValue := 0.0
		for _, v := range rec.Bins {
			maxValue = max(maxValue, v)
		}
		assert.True(t, maxValue == 1 || maxValue == 0, "record %s max %v", rec.MRN, maxValue)
		assert.Len(t, rec.Bins, cohort.BinCount)
	}
}

func TestBuildAppliesStride(t *testing.T) {
	rows := []models.RawRecord{rawRow("a", "10,9,8,7,6,5,4,3,2,1,0", models.Num(1))}

	cohort, err := Build(rows, 5)
	require.NoError(t, err)

	assert.Equal(t, 5, cohort.BinWidth)
	assert.Equal(t, []float64{1, 0.5, 0}, cohort.Records[0].Bins)
}

func TestBuildEmptyInput(t *testing.T) {
	cohort, err := Build(nil, 5)
	require.NoError(t, err)
	assert.Equal(t, 0, cohort.BinCount)
	assert.False(t, cohort.HasData())
}

func TestBuildReportsEveryBadRecord(t *testing.T) {
	rows := []models.RawRecord{
		rawRow("a", "1,0.5", models.Num(1)),
		rawRow("b", "1,abc", models.Num(1)),
		rawRow("c", "", models.Num(1)),
	}

	_, err := Build(rows, 1)
	require.Error(t, err)

	var dataErr *DataError
	require.True(t, errors.As(err, &dataErr))
	assert.Equal(t, []int{1, 2}, dataErr.Indices())
	assert.Contains(t, err.Error(), "2 records failed")
}

func TestBuildRejectsBadStride(t *testing.T) {
	_, err := Build([]models.RawRecord{rawRow("a", "1", models.Num(1))}, 0)
	assert.Error(t, err)
}

func TestBuildLenientSkipsBadRecords(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	rows := []models.RawRecord{
		rawRow("a", "1,0.5", models.Num(1)),
		rawRow("b", "x", models.Num(1)),
		rawRow("c", "4,2,1", models.Num(1)),
	}
	opts := DefaultOptions()
	opts.BinStride = 1

	cohort, failures, err := BuildLenient(rows, opts, logger)
	require.NoError(t, err)

	assert.Equal(t, 2, cohort.Count())
	assert.Equal(t, 3, cohort.BinCount)
	assert.Equal(t, "c", cohort.Records[1].MRN)
	require.Len(t, failures, 1)
	assert.Equal(t, 1, failures[0].Index)
	assert.True(t, strings.Contains(buf.String(), "skipping unparseable DVH"))
}

func TestBuildLenientFailsWhenNothingLoads(t *testing.T) {
	opts := DefaultOptions()

	_, _, err := BuildLenient(nil, opts, zerolog.Nop())
	assert.ErrorIs(t, err, ErrNoValidRecords)

	_, failures, err := BuildLenient([]models.RawRecord{rawRow("a", "bad", models.Num(1))}, opts, zerolog.Nop())
	assert.ErrorIs(t, err, ErrNoValidRecords)
	var dataErr *DataError
	assert.True(t, errors.As(err, &dataErr))
	assert.Len(t, failures, 1)
}

func TestParseBinsTrimsWhitespace(t *testing.T) {
	bins, err := ParseBins(" 1 , 0.5 ,0.25", ",", 1)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0.5, 0.25}, bins)
}

func TestParseBinsRejectsInvalidVolumes(t *testing.T) {
	for _, in := range []string{"1,-0.5,0", "-1,-2", "1,NaN", "Inf,1"} {
		_, err := ParseBins(in, ",", 1)
		assert.Error(t, err, in)
	}
	// a skipped value is never checked
	bins, err := ParseBins("1,-1,0.5", ",", 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0.5}, bins)
}

func TestBuildLenientSkipsNegativeHistogram(t *testing.T) {
	rows := []models.RawRecord{
		rawRow("a", "1,0.5", models.Num(1)),
		rawRow("b", "-2,-4", models.Num(1)),
	}
	opts := DefaultOptions()
	opts.BinStride = 1

	cohort, failures, err := BuildLenient(rows, opts, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 1, cohort.Count())
	require.Len(t, failures, 1)
	assert.Equal(t, "b", failures[0].MRN)
	assert.ErrorContains(t, failures[0], "invalid volume")
}
