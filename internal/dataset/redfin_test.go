package dataset

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"housing-market-pipeline/internal/fetcher"
	"housing-market-pipeline/internal/geo"
)

func gzipTSV(t *testing.T, lines []string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(strings.Join(lines, "\n")))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

const redfinHeader = "region_type\tproperty_type\tregion\tperiod_begin\tperiod_end\t" +
	"median_sale_price\thomes_sold\tmedian_dom\tinventory\tprice_drops\tavg_sale_to_list\tnew_listings"

func redfinServer(t *testing.T, lines []string) *httptest.Server {
	body := gzipTSV(t, lines)
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
}

func TestRedfinSyncThreeRowsOneMatch(t *testing.T) {
	srv := redfinServer(t, []string{
		redfinHeader,
		// match
		"zip code\tAll Residential\tZip Code: 33602\t2025-04-01\t2025-04-30\t$405,000\t42\t18.5\t120\t0.22\t0.991\t55",
		// wrong property type
		"zip code\tCondo/Co-op\tZip Code: 33602\t2025-04-01\t2025-04-30\t$300,000\t10\t25\t40\t0.1\t0.98\t12",
		// out-of-universe zip; also exercises the no-trailing-newline fragment
		"zip code\tAll Residential\tZip Code: 90210\t2025-04-01\t2025-04-30\t$2,100,000\t9\t30\t25\t0.08\t0.97\t7",
	})
	defer srv.Close()

	ex := &fakeExec{ncols: 9}
	r := &Redfin{Filter: geo.NewFilter([]string{"33602"}), URL: srv.URL, Now: fixedNow}
	res, err := r.Sync(context.Background(), ex, fetcher.New(fetcher.Options{}))
	require.NoError(t, err)

	assert.Equal(t, int64(3), res.RowsScanned)
	assert.Equal(t, int64(1), res.RowsMatched)
	assert.Equal(t, int64(1), res.RowsSynced)

	rows := ex.rows()
	require.Len(t, rows, 1)
	row := rows[0]
	assert.Equal(t, "33602", row[0])
	assert.Equal(t, "2025-04-01", row[1])
	assert.Equal(t, 405000.0, *row[2].(*float64)) // "$405,000" stripped
	assert.Equal(t, int64(42), *row[3].(*int64))
	assert.Equal(t, 18.5, *row[4].(*float64))
	assert.Equal(t, 0.991, *row[7].(*float64))
}

func TestRedfinFiltersGeographyLevelAndWindow(t *testing.T) {
	srv := redfinServer(t, []string{
		redfinHeader,
		// county-level geography
		"county\tAll Residential\tHillsborough County\t2025-04-01\t2025-04-30\t$380,000\t900\t20\t3000\t0.2\t0.99\t1100",
		// older than the 5-year window
		"zip code\tAll Residential\tZip Code: 33602\t2019-01-01\t2019-01-31\t$250,000\t30\t22\t90\t0.15\t0.985\t40",
		// unparsable price degrades to null, row still persists
		"zip code\tSingle Family Residential\tZip Code: 33602\t2025-03-01\t2025-03-31\tN/A\t28\t16\t80\t0.18\t0.995\t35",
		"", // blank line is ignored
	})
	defer srv.Close()

	ex := &fakeExec{ncols: 9}
	r := &Redfin{Filter: geo.NewFilter([]string{"33602"}), URL: srv.URL, Now: fixedNow}
	res, err := r.Sync(context.Background(), ex, fetcher.New(fetcher.Options{}))
	require.NoError(t, err)

	assert.Equal(t, int64(3), res.RowsScanned)
	rows := ex.rows()
	require.Len(t, rows, 1)
	assert.Equal(t, "2025-03-01", rows[0][1])
	assert.Nil(t, rows[0][2].(*float64))
}

func TestRedfinDeduplicatesRepeatedNaturalKey(t *testing.T) {
	srv := redfinServer(t, []string{
		redfinHeader,
		"zip code\tAll Residential\tZip Code: 33602\t2025-04-01\t2025-04-30\t$405,000\t42\t18\t120\t0.2\t0.99\t55",
		"zip code\tSingle Family Residential\tZip Code: 33602\t2025-04-01\t2025-04-30\t$455,000\t30\t17\t95\t0.19\t0.992\t41",
	})
	defer srv.Close()

	ex := &fakeExec{ncols: 9}
	r := &Redfin{Filter: geo.NewFilter([]string{"33602"}), URL: srv.URL, Now: fixedNow}
	res, err := r.Sync(context.Background(), ex, fetcher.New(fetcher.Options{}))
	require.NoError(t, err)

	// first series wins; the repeat would collide inside one multi-row upsert
	assert.Equal(t, int64(1), res.RowsMatched)
	require.Len(t, ex.rows(), 1)
	assert.Equal(t, 405000.0, *ex.rows()[0][2].(*float64))
}
