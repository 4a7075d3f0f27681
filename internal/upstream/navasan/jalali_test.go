package navasan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToJalaliKnownDates(t *testing.T) {
	cases := []struct {
		name                string
		gy, gm, gd          int
		wantY, wantM, wantD int
	}{
		{"nowruz 1403", 2024, 3, 20, 1403, 1, 1},
		{"nowruz 1402", 2023, 3, 21, 1402, 1, 1},
		{"22 bahman 1357", 1979, 2, 11, 1357, 11, 22},
		{"mid esfand", 2024, 3, 1, 1402, 12, 11},
		{"day before nowruz", 2024, 3, 19, 1402, 12, 29},
		{"summer month boundary", 2026, 8, 22, 1405, 5, 31},
		{"first of shahrivar", 2026, 8, 23, 1405, 6, 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			jy, jm, jd := toJalali(tc.gy, tc.gm, tc.gd)
			assert.Equal(t, tc.wantY, jy)
			assert.Equal(t, tc.wantM, jm)
			assert.Equal(t, tc.wantD, jd)
		})
	}
}

func TestRenderLocalFormatsJalaliDateAndClock(t *testing.T) {
	tehran, err := time.LoadLocation("Asia/Tehran")
	require.NoError(t, err)

	render := RenderLocal(tehran)

	// 2024-03-20 12:30 UTC is Nowruz afternoon in Tehran (UTC+3:30).
	ts := time.Date(2024, 3, 20, 12, 30, 5, 0, time.UTC)
	date, clock := render(ts)
	assert.Equal(t, "1403/01/01", date)
	assert.Equal(t, "16:00:05", clock)
}

func TestRenderLocalCrossesMidnightInTehran(t *testing.T) {
	tehran, err := time.LoadLocation("Asia/Tehran")
	require.NoError(t, err)

	render := RenderLocal(tehran)

	// 22:00 UTC is already the next local day in Tehran.
	ts := time.Date(2024, 3, 20, 22, 0, 0, 0, time.UTC)
	date, _ := render(ts)
	assert.Equal(t, "1403/01/02", date)
}
