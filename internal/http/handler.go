package http

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"

	"go.ngs.io/metnorm/internal/adapter/interp"
	"go.ngs.io/metnorm/internal/domain"
	"go.ngs.io/metnorm/internal/retrieval"
	"go.ngs.io/metnorm/internal/usecase"
)

// Handler handles HTTP requests for normalized meteorological data.
type Handler struct {
	normalizeUC *usecase.NormalizeUseCase
	dataDir     string
	clock       clockwork.Clock
}

// NewHandler creates a new HTTP handler. Input paths are resolved under dataDir.
func NewHandler(normalizeUC *usecase.NormalizeUseCase, dataDir string, clock clockwork.Clock) *Handler {
	if abs, err := filepath.Abs(dataDir); err == nil {
		dataDir = abs
	}
	return &Handler{
		normalizeUC: normalizeUC,
		dataDir:     dataDir,
		clock:       clock,
	}
}

// errBadPath marks a path outside the data directory.
var errBadPath = errors.New("path must stay inside the data directory")

// GetDateTokens handles GET /v1/dates/tokens.
func (h *Handler) GetDateTokens(c *gin.Context) {
	from, err := parseDateParam(c, "from")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	to, err := parseDateParam(c, "to")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tokens := h.normalizeUC.DateTokens(from, to)
	c.JSON(http.StatusOK, gin.H{
		"years":  tokens.SortedYears(),
		"months": tokens.SortedMonths(),
		"days":   tokens.SortedDays(),
	})
}

// TableResponse is a table serialized row by row.
type TableResponse struct {
	Columns []ColumnResponse `json:"columns"`
	Rows    [][]any          `json:"rows"`
	Report  ReportResponse   `json:"report"`
}

// ColumnResponse describes one column.
type ColumnResponse struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// ReportResponse mirrors domain.DecodeReport without the server-side path.
type ReportResponse struct {
	Source               string `json:"source"`
	RowsRead             int    `json:"rows_read"`
	RowsDropped          int    `json:"rows_dropped"`
	Narrowed             bool   `json:"narrowed"`
	DistinctBlock0Values int    `json:"distinct_block0_values,omitempty"`
}

// GetTable handles GET /v1/tables. With output=csv the table is returned as CSV.
func (h *Handler) GetTable(c *gin.Context) {
	req, ok := h.loadRequest(c)
	if !ok {
		return
	}

	if c.Query("output") == "csv" {
		var buf bytes.Buffer
		if _, err := h.normalizeUC.Export(req, &buf); err != nil {
			h.writeError(c, err)
			return
		}
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", exportName(req.Path)))
		c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
		return
	}

	res, err := h.normalizeUC.Load(req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tableResponse(res))
}

// MatrixResponse is a spatial matrix; masked cells are null.
type MatrixResponse struct {
	Title  string       `json:"title,omitempty"`
	Lats   []float64    `json:"lats"`
	Lons   []float64    `json:"lons"`
	Values [][]*float64 `json:"values"`
	Masked int          `json:"masked"`
}

// GetMatrix handles GET /v1/matrix.
func (h *Handler) GetMatrix(c *gin.Context) {
	req, ok := h.loadRequest(c)
	if !ok {
		return
	}

	m, err := h.normalizeUC.Matrix(usecase.MatrixRequest{LoadRequest: req, ValueColumn: c.Query("value_column")})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, matrixResponse("", m))
}

// GetFrames handles GET /v1/frames.
func (h *Handler) GetFrames(c *gin.Context) {
	req, ok := h.loadRequest(c)
	if !ok {
		return
	}
	period, err := domain.ParsePeriod(c.Query("period"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	frames, err := h.normalizeUC.Frames(usecase.FramesRequest{
		MatrixRequest: usecase.MatrixRequest{LoadRequest: req, ValueColumn: c.Query("value_column")},
		Period:        period,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	response := make([]MatrixResponse, len(frames))
	for i, f := range frames {
		response[i] = matrixResponse(f.Title, f.Matrix)
	}
	c.JSON(http.StatusOK, gin.H{
		"period": period,
		"frames": response,
		"count":  len(response),
	})
}

// GetSample handles GET /v1/matrix/sample.
func (h *Handler) GetSample(c *gin.Context) {
	req, ok := h.loadRequest(c)
	if !ok {
		return
	}
	lat, err := strconv.ParseFloat(c.Query("lat"), 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid latitude: %v", err)})
		return
	}
	lon, err := strconv.ParseFloat(c.Query("lon"), 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid longitude: %v", err)})
		return
	}

	value, err := h.normalizeUC.Sample(usecase.SampleRequest{
		MatrixRequest: usecase.MatrixRequest{LoadRequest: req, ValueColumn: c.Query("value_column")},
		Lat:           lat,
		Lon:           lon,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"lat": lat, "lon": lon, "value": value})
}

// Era5RequestBody is the body of POST /v1/requests/era5.
type Era5RequestBody struct {
	Kind     string         `json:"kind" binding:"required"`
	From     string         `json:"from" binding:"required"`
	To       string         `json:"to" binding:"required"`
	Area     retrieval.Area `json:"area"`
	TimeZone string         `json:"time_zone"`
}

// PostEra5Request handles POST /v1/requests/era5.
func (h *Handler) PostEra5Request(c *gin.Context) {
	var body Era5RequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid body: %v", err)})
		return
	}
	from, err := civil.ParseDate(body.From)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid from date (expected YYYY-MM-DD): %v", err)})
		return
	}
	to, err := civil.ParseDate(body.To)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid to date (expected YYYY-MM-DD): %v", err)})
		return
	}

	req, err := h.normalizeUC.Era5Request(usecase.Era5Request{
		Kind:     retrieval.Kind(body.Kind),
		From:     from,
		To:       to,
		Area:     body.Area,
		TimeZone: body.TimeZone,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

// HealthCheck handles GET /health.
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   h.clock.Now().UTC().Format(time.RFC3339),
	})
}

// loadRequest builds a LoadRequest from the common query parameters and
// writes the error response itself when they are invalid.
func (h *Handler) loadRequest(c *gin.Context) (usecase.LoadRequest, bool) {
	path, err := h.resolvePath(c.Query("path"))
	if err != nil {
		h.writeError(c, err)
		return usecase.LoadRequest{}, false
	}

	req := usecase.LoadRequest{
		Path:       path,
		Format:     c.Query("format"),
		DateColumn: c.Query("date_column"),
	}
	if years := c.Query("years"); years != "" {
		req.Years, err = usecase.ParseYears(years)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return usecase.LoadRequest{}, false
		}
	}
	return req, true
}

// resolvePath maps a client path onto the data directory. Symlinks are
// resolved before the containment check, so a link inside the directory
// cannot reach a file outside it.
func (h *Handler) resolvePath(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", fmt.Errorf("%w: path parameter is required", usecase.ErrInvalidRequest)
	}
	if filepath.IsAbs(p) {
		return "", errBadPath
	}
	base, err := filepath.EvalSymlinks(filepath.Clean(h.dataDir))
	if err != nil {
		return "", fmt.Errorf("data directory: %w", err)
	}
	full := filepath.Join(base, p)
	if !within(base, full) {
		return "", errBadPath
	}
	resolved, err := filepath.EvalSymlinks(full)
	if err != nil {
		return "", fmt.Errorf("input %s: %w", p, err)
	}
	if !within(base, resolved) {
		return "", errBadPath
	}
	return resolved, nil
}

func within(base, path string) bool {
	rel, err := filepath.Rel(base, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// clientMessage rewrites server paths under the data directory to the
// client-relative paths they were requested as.
func (h *Handler) clientMessage(err error) string {
	msg := err.Error()
	dirs := []string{filepath.Clean(h.dataDir)}
	if resolved, err := filepath.EvalSymlinks(dirs[0]); err == nil && resolved != dirs[0] {
		dirs = append(dirs, resolved)
	}
	for _, dir := range dirs {
		if dir == string(filepath.Separator) {
			continue
		}
		msg = strings.ReplaceAll(msg, dir+string(filepath.Separator), "")
		msg = strings.ReplaceAll(msg, dir, ".")
	}
	return msg
}

func parseDateParam(c *gin.Context, name string) (civil.Date, error) {
	s := c.Query(name)
	if s == "" {
		return civil.Date{}, fmt.Errorf("%s parameter is required", name)
	}
	d, err := civil.ParseDate(s)
	if err != nil {
		return civil.Date{}, fmt.Errorf("invalid %s date (expected YYYY-MM-DD): %v", name, err)
	}
	return d, nil
}

// writeError maps use case errors onto status codes.
func (h *Handler) writeError(c *gin.Context, err error) {
	var fe *domain.FormatError
	var se *domain.SchemaMismatchError
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &fe), errors.As(err, &se),
		errors.Is(err, usecase.ErrInvalidRequest), errors.Is(err, errBadPath):
		status = http.StatusBadRequest
	case errors.Is(err, os.ErrNotExist), errors.Is(err, interp.ErrMasked):
		status = http.StatusNotFound
	}
	c.JSON(status, gin.H{"error": h.clientMessage(err)})
}

func tableResponse(res *usecase.LoadResult) TableResponse {
	cols := res.Table.Columns()
	resp := TableResponse{
		Columns: make([]ColumnResponse, len(cols)),
		Rows:    make([][]any, res.Table.Len()),
		Report: ReportResponse{
			Source:               res.Report.Source,
			RowsRead:             res.Report.RowsRead,
			RowsDropped:          res.Report.RowsDropped,
			Narrowed:             res.Report.Narrowed,
			DistinctBlock0Values: res.Report.DistinctBlock0Values,
		},
	}
	for i, col := range cols {
		resp.Columns[i] = ColumnResponse{Name: col.Name, Kind: col.Kind.String()}
	}
	for r := range resp.Rows {
		cells := res.Table.Row(r)
		row := make([]any, len(cells))
		for i, cell := range cells {
			switch {
			case cols[i].Kind == domain.KindDate:
				row[i] = cell.Date.String()
			case math.IsNaN(cell.Num) || math.IsInf(cell.Num, 0):
				row[i] = nil
			default:
				row[i] = cell.Num
			}
		}
		resp.Rows[r] = row
	}
	return resp
}

func matrixResponse(title string, m *domain.SpatialMatrix) MatrixResponse {
	values := make([][]*float64, m.Rows())
	for i := range values {
		values[i] = make([]*float64, m.Cols())
		for j := range values[i] {
			if m.Mask[i][j] {
				continue
			}
			v := m.Values[i][j]
			values[i][j] = &v
		}
	}
	return MatrixResponse{
		Title:  title,
		Lats:   m.Lats,
		Lons:   m.Lons,
		Values: values,
		Masked: m.Masked(),
	}
}

func exportName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base)) + ".csv"
}
