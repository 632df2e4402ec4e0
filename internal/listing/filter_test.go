package listing

import (
	"math/rand"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var serviceKeys = Keys{Secondary: "service"}

func TestParseFilterDefaults(t *testing.T) {
	cases := map[string]FilterState{
		"":                          {Page: 1},
		"page=abc":                  {Page: 1},
		"page=0":                    {Page: 1},
		"page=-3":                   {Page: 1},
		"page=4&status=Pending":     {Status: "Pending", Page: 4},
		"status=all&service=ALL":    {Page: 1},
		"search=+pt+maju+&page=2":   {Search: "pt maju", Page: 2},
		"service=vat&unknown=1":     {Secondary: "vat", Page: 1},
		"search=all&status=Pending": {Search: "all", Status: "Pending", Page: 1},
	}
	for raw, want := range cases {
		values, err := url.ParseQuery(raw)
		require.NoError(t, err)
		assert.Equal(t, want, ParseFilter(values, serviceKeys), raw)
	}
}

func TestSecondaryIgnoredWithoutKey(t *testing.T) {
	values := url.Values{"service": {"vat"}}
	assert.Equal(t, FilterState{Page: 1}, ParseFilter(values, Keys{}))
	assert.Equal(t, "page=1", FilterState{Secondary: "vat", Page: 1}.Query(Keys{}))
}

func TestFilterRoundTrip(t *testing.T) {
	statuses := []string{"", "Pending", "In Review", "Completed", AllSentinel}
	searches := []string{"", "pt sinar", "a&b=c", "100%", "all", "  pt maju  ", "\tnpwp\n"}
	services := []string{"", "vat", "pt-pma", "All"}
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 500; i++ {
		in := FilterState{
			Status:    statuses[rng.Intn(len(statuses))],
			Search:    searches[rng.Intn(len(searches))],
			Secondary: services[rng.Intn(len(services))],
			Page:      1 + rng.Intn(40),
		}
		values, err := url.ParseQuery(in.Query(serviceKeys))
		require.NoError(t, err)
		got := ParseFilter(values, serviceKeys)

		want := in
		if want.Status == AllSentinel {
			want.Status = ""
		}
		if want.Secondary == "All" {
			want.Secondary = ""
		}
		want.Search = strings.TrimSpace(want.Search)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("round trip mismatch for %+v (-want +got):\n%s", in, diff)
		}
	}
}

func TestSentinelNeverSerialized(t *testing.T) {
	s := NewSync(serviceKeys, url.Values{})
	s.SetStatus("all")
	s.SetSecondary(AllSentinel)
	values := s.State().Values(serviceKeys)
	assert.NotContains(t, values, ParamStatus)
	assert.NotContains(t, values, "service")
	assert.Equal(t, "1", values.Get(ParamPage))
}

func TestSyncClearStatusScenario(t *testing.T) {
	initial, err := url.ParseQuery("status=Pending&page=2")
	require.NoError(t, err)

	s := NewSync(serviceKeys, initial)
	assert.Equal(t, FilterState{Status: "Pending", Page: 2}, s.State())

	_, navigate := s.Navigation()
	assert.False(t, navigate, "mounting on a canonical URL must not navigate")

	assert.True(t, s.SetStatus(AllSentinel))
	target, navigate := s.Navigation()
	require.True(t, navigate)

	values, err := url.ParseQuery(target)
	require.NoError(t, err)
	assert.Equal(t, "1", values.Get(ParamPage))
	_, hasStatus := values[ParamStatus]
	assert.False(t, hasStatus)

	s.Navigated(target)
	_, navigate = s.Navigation()
	assert.False(t, navigate, "a completed navigation must not loop")
}

func TestFilterChangeResetsPage(t *testing.T) {
	setters := map[string]func(*Sync) bool{
		"status":    func(s *Sync) bool { return s.SetStatus("Completed") },
		"search":    func(s *Sync) bool { return s.SetSearch("maju") },
		"secondary": func(s *Sync) bool { return s.SetSecondary("vat") },
	}
	for name, set := range setters {
		t.Run(name, func(t *testing.T) {
			s := NewSync(serviceKeys, url.Values{ParamPage: {"5"}})
			require.True(t, set(s))
			assert.Equal(t, 1, s.State().Page)
			target, ok := s.Navigation()
			require.True(t, ok)
			assert.Contains(t, target, "page=1")
		})
	}
}

func TestSettingSameValueKeepsPage(t *testing.T) {
	s := NewSync(serviceKeys, url.Values{ParamStatus: {"Pending"}, ParamPage: {"3"}})
	assert.False(t, s.SetStatus("Pending"))
	assert.False(t, s.SetSearch("  "))
	assert.Equal(t, 3, s.State().Page)

	assert.True(t, s.SetPage(4))
	assert.Equal(t, "Pending", s.State().Status)
	assert.Equal(t, 4, s.State().Page)
}

func TestApplyURLOnlyReportsRealChanges(t *testing.T) {
	s := NewSync(serviceKeys, url.Values{ParamStatus: {"Pending"}, ParamPage: {"2"}})

	same := url.Values{ParamPage: {"2"}, ParamStatus: {"Pending"}, "utm": {"x"}}
	assert.False(t, s.ApplyURL(same))

	back := url.Values{ParamPage: {"1"}, ParamStatus: {"Pending"}}
	assert.True(t, s.ApplyURL(back))
	assert.Equal(t, FilterState{Status: "Pending", Page: 1}, s.State())

	_, navigate := s.Navigation()
	assert.False(t, navigate)
}

func TestCanonicalDropsNoise(t *testing.T) {
	values := url.Values{"status": {"all"}, "search": {""}, "page": {"x"}, "service": {"vat"}, "foo": {"bar"}}
	assert.Equal(t, "page=1&service=vat", Canonical(values, serviceKeys))
	assert.Equal(t, "page="+strconv.Itoa(1), Canonical(url.Values{}, Keys{}))
}
