package birthdate

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"agegate/pkg/requestcontext"
)

type ExtractorSuite struct {
	suite.Suite
	now time.Time
}

func TestExtractorSuite(t *testing.T) {
	suite.Run(t, new(ExtractorSuite))
}

func (s *ExtractorSuite) SetupTest() {
	s.now = time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (s *ExtractorSuite) TestParsePatterns() {
	cases := []struct {
		name   string
		text   string
		want   time.Time
		layout Layout
	}{
		{"iso dash in surrounding text", "REPUBLIC ID\nBirth 1963-07-04 Sex M", date(1963, time.July, 4), LayoutISO},
		{"iso slash", "1958/12/31", date(1958, time.December, 31), LayoutISO},
		{"day first", "DOB 25-12-1950", date(1950, time.December, 25), LayoutDayFirst},
		{"ambiguous reads day first", "03/04/1960", date(1960, time.April, 3), LayoutDayFirst},
		{"month first when day-first cannot match", "DOB: 01/15/1960", date(1960, time.January, 15), LayoutMonthFirst},
		{"full month name", "Born July 4, 1955", date(1955, time.July, 4), LayoutMonthName},
		{"abbreviated month without comma", "Feb 09 1949", date(1949, time.February, 9), LayoutMonthName},
		{"sept abbreviation", "Sept 5, 1960", date(1960, time.September, 5), LayoutMonthName},
		{"upper case month", "DATE OF BIRTH: MARCH 3, 1944", date(1944, time.March, 3), LayoutMonthName},
		{"day month name", "12 October 1961", date(1961, time.October, 12), LayoutDayMonth},
		{"day abbreviated month", "1 aug 1939", date(1939, time.August, 1), LayoutDayMonth},
		{"single digit fields", "1960-1-5", date(1960, time.January, 5), LayoutISO},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			m, ok := Parse(tc.text, s.now)
			s.Require().True(ok)
			s.Equal(tc.want, m.Date)
			s.Equal(tc.layout, m.Layout)
		})
	}
}

func (s *ExtractorSuite) TestPatternPriority() {
	s.Run("iso wins over an earlier day-first date", func() {
		m, ok := Parse("issued 01/02/2001 born 1950-03-04", s.now)
		s.Require().True(ok)
		s.Equal(date(1950, time.March, 4), m.Date)
	})

	s.Run("later matches of the same pattern are tried", func() {
		m, ok := Parse("31/02/1950 then 14/02/1951", s.now)
		s.Require().True(ok)
		s.Equal(date(1951, time.February, 14), m.Date)
	})
}

func (s *ExtractorSuite) TestRejects() {
	cases := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"whitespace", "   \n"},
		{"no date", "REPUBLIC OF THE PHILIPPINES"},
		{"invalid calendar date", "1961-02-30"},
		{"april 31", "31/04/1960"},
		{"year before 1900", "1899-05-05"},
		{"future year", "2099-01-01"},
		{"later this year", "2024-12-01"},
		{"mixed separators", "1960-01/15"},
		{"unknown month word", "15 Smarch 1960"},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			_, ok := Parse(tc.text, s.now)
			s.False(ok)
		})
	}
}

func (s *ExtractorSuite) TestToday() {
	m, ok := Parse("2024-06-01", s.now)
	s.Require().True(ok)
	s.Equal(date(2024, time.June, 1), m.Date)
}

func (s *ExtractorSuite) TestCorrect() {
	cases := []struct {
		in, want string
	}{
		{"1O/O5/196O", "10/05/1960"},
		{"I5-l2-I95S", "15-12-1955"},
		{"19B0", "1980"},
		{"DOB: 01/15/1960", "DOB: 01/15/1960"},
		{"Sept 5, 1960", "Sept 5, 1960"},
		{"BIRTH", "BIRTH"},
		{"OB/lO/1960", "08/10/1960"},
		{"DOB: lO/OS/1960", "DOB: 10/05/1960"},
		{"DOB/1960", "DOB/1960"},
		{"SOB IS", "SOB IS"},
		{"", ""},
	}
	for _, tc := range cases {
		s.Equal(tc.want, Correct(tc.in), tc.in)
	}
}

func (s *ExtractorSuite) TestParseAppliesCorrections() {
	cases := []struct {
		in   string
		want time.Time
	}{
		{"Birthdate: 196O-O7-O4", date(1960, time.July, 4)},
		{"DOB: OB/lO/1960", date(1960, time.October, 8)},
		{"DOB: lO/OS/1960", date(1960, time.May, 10)},
		{"DOB: O1/15/196O", date(1960, time.January, 15)},
	}
	for _, tc := range cases {
		m, ok := Parse(tc.in, s.now)
		s.Require().True(ok, tc.in)
		s.Equal(tc.want, m.Date, tc.in)
	}
}

func (s *ExtractorSuite) TestExtractorUsesRequestClock() {
	var buf bytes.Buffer
	e := NewExtractor(WithLogger(slog.New(slog.NewJSONHandler(&buf, nil))))

	ctx := requestcontext.WithTime(context.Background(), time.Date(1960, 1, 1, 0, 0, 0, 0, time.UTC))
	_, ok := e.Extract(ctx, "1963-07-04")
	s.False(ok, "a date after the request clock is not a birthdate")
	s.Contains(buf.String(), "could not parse birthdate")

	ctx = requestcontext.WithTime(context.Background(), s.now)
	m, ok := e.Extract(ctx, "1963-07-04")
	s.True(ok)
	s.Equal(date(1963, time.July, 4), m.Date)
}

func FuzzParse(f *testing.F) {
	f.Add("DOB: 01/15/1960")
	f.Add("1963-07-04")
	f.Add("Sept 5, 1960")
	f.Add("31/02/1950")
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	f.Fuzz(func(t *testing.T, text string) {
		m, ok := Parse(text, now)
		if !ok {
			return
		}
		if m.Date.Year() < MinYear || m.Date.After(now) {
			t.Fatalf("out of range date %v from %q", m.Date, text)
		}
	})
}
