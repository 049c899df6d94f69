package catalog

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/hiv-care-hub/platform/internal/adapters/medref"
	"github.com/hiv-care-hub/platform/internal/adapters/protocol"
	"github.com/hiv-care-hub/platform/internal/medicine"
	apperrors "github.com/hiv-care-hub/platform/internal/shared/errors"
	"github.com/hiv-care-hub/platform/internal/shared/types"
)

type fakeCatalogSource struct {
	protocols   []protocol.Protocol
	ranking     bool
	eligibility *protocol.Eligibility
	lastFilter  protocol.Filter
}

func (f *fakeCatalogSource) ListProtocols(_ context.Context, filter protocol.Filter) ([]protocol.Protocol, error) {
	f.lastFilter = filter
	return f.protocols, nil
}

func (f *fakeCatalogSource) SupportsRanking() bool { return f.ranking }

func (f *fakeCatalogSource) ValidateForPatient(_ context.Context, _, _ types.ID) (*protocol.Eligibility, error) {
	if f.eligibility == nil {
		return &protocol.Eligibility{IsValid: true}, nil
	}
	return f.eligibility, nil
}

func (f *fakeCatalogSource) SourceSystem() string { return "fake-catalog" }
func (f *fakeCatalogSource) Health(_ context.Context) error { return nil }

type stubReference struct {
	medicines map[types.ID]medref.Medicine
}

func (s *stubReference) ListMedicines(_ context.Context, _ medref.Page) ([]medref.Medicine, int, error) {
	return nil, 0, nil
}

func (s *stubReference) GetMedicine(_ context.Context, id types.ID) (*medref.Medicine, error) {
	m, ok := s.medicines[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return &m, nil
}

func (s *stubReference) SourceSystem() string { return "stub-ref" }
func (s *stubReference) Health(_ context.Context) error { return nil }

func makeProtocols(n int, disease string) []protocol.Protocol {
	out := make([]protocol.Protocol, n)
	for i := range out {
		out[i] = protocol.Protocol{
			ID:            types.ID(fmt.Sprintf("proto-%03d", i)),
			Name:          fmt.Sprintf("Protocol %d", i),
			TargetDisease: disease,
		}
	}
	return out
}

func newTestService(source *fakeCatalogSource) *Service {
	cache := medicine.NewCache(&stubReference{}, 10)
	return NewService(source, cache, "HIV")
}

func TestRecommendedTabFiltersByDiseaseWithoutRanking(t *testing.T) {
	mixed := append(makeProtocols(3, "HIV"), makeProtocols(2, "HBV")...)
	source := &fakeCatalogSource{protocols: mixed, ranking: false}
	svc := newTestService(source)

	got, err := svc.ListProtocols(context.Background(), Query{Tab: protocol.TabRecommended})
	if err != nil {
		t.Fatalf("ListProtocols failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 HIV protocols, got %d", len(got))
	}
	for _, p := range got {
		if p.TargetDisease != "HIV" {
			t.Errorf("non-HIV protocol in recommended tab: %s", p.ID)
		}
	}
}

func TestRecommendedTabTrustsRankingSource(t *testing.T) {
	mixed := append(makeProtocols(3, "HIV"), makeProtocols(2, "HBV")...)
	source := &fakeCatalogSource{protocols: mixed, ranking: true}
	svc := newTestService(source)

	got, err := svc.ListProtocols(context.Background(), Query{Tab: protocol.TabRecommended})
	if err != nil {
		t.Fatalf("ListProtocols failed: %v", err)
	}
	// a ranking source already applied its own recommendation logic
	if len(got) != 5 {
		t.Errorf("expected source list untouched, got %d of 5", len(got))
	}
}

func TestPopularTabReturnsHeadOfList(t *testing.T) {
	source := &fakeCatalogSource{protocols: makeProtocols(25, "HIV"), ranking: true}
	svc := newTestService(source)

	got, err := svc.ListProtocols(context.Background(), Query{Tab: protocol.TabPopular})
	if err != nil {
		t.Fatalf("ListProtocols failed: %v", err)
	}
	if len(got) != popularLimit {
		t.Errorf("expected %d popular protocols, got %d", popularLimit, len(got))
	}
	if got[0].ID != "proto-000" {
		t.Errorf("popular tab must keep source order, first = %s", got[0].ID)
	}
}

func TestSearchTextForwardedTrimmed(t *testing.T) {
	source := &fakeCatalogSource{protocols: makeProtocols(2, "HIV"), ranking: true}
	svc := newTestService(source)

	if _, err := svc.ListProtocols(context.Background(), Query{Tab: protocol.TabAll, Search: "  dolutegravir "}); err != nil {
		t.Fatalf("ListProtocols failed: %v", err)
	}
	if source.lastFilter.SearchText != "dolutegravir" {
		t.Errorf("expected trimmed search text, got %q", source.lastFilter.SearchText)
	}
}

func TestCheckEligibilityRejectionCarriesReasons(t *testing.T) {
	source := &fakeCatalogSource{
		protocols: makeProtocols(1, "HIV"),
		eligibility: &protocol.Eligibility{
			IsValid: false,
			Errors:  []string{"patient has no confirmed HIV diagnosis"},
		},
	}
	svc := newTestService(source)

	err := svc.CheckEligibility(context.Background(), types.ID("proto-000"), types.ID("patient-1"))
	if err == nil {
		t.Fatal("expected eligibility rejection")
	}
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got %T", err)
	}
	if appErr.Code != "ELIGIBILITY_REJECTED" {
		t.Errorf("expected ELIGIBILITY_REJECTED, got %s", appErr.Code)
	}
	if len(appErr.Reasons) != 1 || appErr.Reasons[0] != "patient has no confirmed HIV diagnosis" {
		t.Errorf("rejection reasons not carried: %v", appErr.Reasons)
	}
}

func TestCheckEligibilityAccepts(t *testing.T) {
	source := &fakeCatalogSource{protocols: makeProtocols(1, "HIV")}
	svc := newTestService(source)

	if err := svc.CheckEligibility(context.Background(), types.ID("proto-000"), types.ID("patient-1")); err != nil {
		t.Fatalf("expected eligible, got %v", err)
	}
}

func TestEnrichmentFillsMedicineDetails(t *testing.T) {
	medID := types.ID("med-001")
	source := &fakeCatalogSource{
		ranking: true,
		protocols: []protocol.Protocol{{
			ID:            types.ID("proto-000"),
			Name:          "First line",
			TargetDisease: "HIV",
			Medicines: []protocol.ProtocolMedicine{
				{ID: types.ID("line-1"), MedicineID: medID, Dosage: "1x1"},
			},
		}},
	}
	cache := medicine.NewCache(&stubReference{medicines: map[types.ID]medref.Medicine{
		medID: {ID: medID, Name: "Dolutegravir", Price: 120},
	}}, 10)
	svc := NewService(source, cache, "HIV")

	got, err := svc.ListProtocols(context.Background(), Query{Tab: protocol.TabAll})
	if err != nil {
		t.Fatalf("ListProtocols failed: %v", err)
	}
	line := got[0].Medicines[0]
	if line.Medicine == nil || line.Medicine.Name != "Dolutegravir" {
		t.Errorf("expected enriched medicine detail, got %+v", line.Medicine)
	}
}
