package navasan

import (
	"fmt"
	"time"
)

// toJalali converts a Gregorian date to the Jalali (Persian) calendar using
// the standard arithmetic 33-year-cycle algorithm.
func toJalali(gy, gm, gd int) (jy, jm, jd int) {
	gdm := [12]int{0, 31, 59, 90, 120, 151, 181, 212, 243, 273, 304, 334}

	gy2 := gy
	if gm > 2 {
		gy2 = gy + 1
	}
	days := 355666 + 365*gy + (gy2+3)/4 - (gy2+99)/100 + (gy2+399)/400 + gd + gdm[gm-1]

	jy = -1595 + 33*(days/12053)
	days %= 12053
	jy += 4 * (days / 1461)
	days %= 1461
	if days > 365 {
		jy += (days - 1) / 365
		days = (days - 1) % 365
	}

	if days < 186 {
		jm = 1 + days/31
		jd = 1 + days%31
	} else {
		jm = 7 + (days-186)/30
		jd = 1 + (days-186)%30
	}
	return jy, jm, jd
}

// RenderLocal formats ts in the Tehran locale as a Jalali date string and a
// 24-hour clock string. It satisfies the cache manager's LocalClock.
func RenderLocal(loc *time.Location) func(time.Time) (string, string) {
	return func(ts time.Time) (string, string) {
		local := ts.In(loc)
		jy, jm, jd := toJalali(local.Year(), int(local.Month()), local.Day())
		return fmt.Sprintf("%04d/%02d/%02d", jy, jm, jd), local.Format("15:04:05")
	}
}
