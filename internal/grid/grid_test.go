package grid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bdougie/lktrack/internal/models"
)

func TestLinspace(t *testing.T) {
	assert.Equal(t, []int{0, 2, 4, 6, 9}, Linspace(0, 9, 5)) // 0, 2.25, 4.5, 6.75, 9
	assert.Equal(t, []int{0, 127}, Linspace(0, 127, 2))
	assert.Equal(t, []int{3}, Linspace(3, 10, 1))
	assert.Empty(t, Linspace(0, 10, 0))
}

func TestLinspaceKeepsStop(t *testing.T) {
	assert.Equal(t, []int{0, 1, 2, 4, 5, 6, 8, 9, 10, 12, 13, 15}, Linspace(0, 15, 12))

	for size := 2; size <= 2048; size++ {
		for _, n := range []int{2, 12, 40} {
			got := Linspace(0, size-1, n)
			require.Equal(t, size-1, got[n-1], "size=%d n=%d", size, n)
		}
	}
}

func TestRegularReachesLastPixel(t *testing.T) {
	for _, size := range [][2]int{{16, 32}, {16, 1280}, {31, 46}, {121, 191}} {
		h, w := size[0], size[1]
		points, err := Regular(h, w, DefaultRows, DefaultCols)
		require.NoError(t, err)
		assert.Equal(t, models.Point{Row: h - 1, Col: w - 1}, points[len(points)-1], "%dx%d", h, w)
	}
}

func TestRegularDefaultGrid(t *testing.T) {
	sizes := [][2]int{{128, 256}, {1, 1}, {12, 40}, {7, 5}, {1080, 1920}}

	for _, size := range sizes {
		h, w := size[0], size[1]
		points, err := Regular(h, w, DefaultRows, DefaultCols)
		require.NoError(t, err)
		require.Len(t, points, 480)
		require.NoError(t, Validate(points, h, w))

		for i, p := range points {
			assert.GreaterOrEqual(t, p.Row, 0)
			assert.LessOrEqual(t, p.Row, h-1)
			assert.GreaterOrEqual(t, p.Col, 0)
			assert.LessOrEqual(t, p.Col, w-1)
			if i > 0 {
				assert.GreaterOrEqual(t, p.Row, points[i-1].Row, "rows must not decrease")
			}
			if i%DefaultCols > 0 {
				assert.GreaterOrEqual(t, p.Col, points[i-1].Col, "columns must not decrease within a row")
			}
		}

		assert.Equal(t, models.Point{Row: 0, Col: 0}, points[0])
		assert.Equal(t, models.Point{Row: h - 1, Col: w - 1}, points[len(points)-1])
	}
}

func TestRegularRowMajor(t *testing.T) {
	points, err := Regular(3, 3, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, []models.Point{{Row: 0, Col: 0}, {Row: 0, Col: 2}, {Row: 2, Col: 0}, {Row: 2, Col: 2}}, points)
}

func TestRegularInvalid(t *testing.T) {
	_, err := Regular(0, 10, 12, 40)
	assert.ErrorIs(t, err, ErrInvalidGrid)

	_, err = Regular(10, 10, 0, 40)
	assert.ErrorIs(t, err, ErrInvalidGrid)
}

func TestValidateRejectsOutside(t *testing.T) {
	err := Validate([]models.Point{{Row: 0, Col: 0}, {Row: 10, Col: 3}}, 10, 10)
	assert.ErrorIs(t, err, ErrPointOutside)
}
