package split

import (
	"fmt"
	"testing"

	apperrors "github.com/hyperjump/causa/internal/errors"
	"github.com/hyperjump/causa/internal/models"
)

func makeRecords(n int) []models.TrimmedRecord {
	recs := make([]models.TrimmedRecord, n)
	for i := range recs {
		recs[i] = models.TrimmedRecord{HypID: fmt.Sprintf("f_%d_%d", i, i)}
	}
	return recs
}

func TestNew_invalidRatio(t *testing.T) {
	for _, r := range []float64{0, 1, -0.2, 1.5} {
		if _, err := New(r, 1); !apperrors.IsInvalidInput(err) {
			t.Errorf("ratio %v: expected invalid input error, got %v", r, err)
		}
	}
}

func TestSplit_disjointAndComplete(t *testing.T) {
	s, err := New(0.7, 42)
	if err != nil {
		t.Fatal(err)
	}
	recs := makeRecords(1000)
	train, test := s.Split(recs)
	if len(train)+len(test) != len(recs) {
		t.Fatalf("sizes %d+%d != %d", len(train), len(test), len(recs))
	}
	seen := make(map[string]string)
	for _, r := range train {
		if r.Partition != models.PartitionTrain {
			t.Errorf("train row labelled %q", r.Partition)
		}
		seen[r.HypID] = r.Partition
	}
	for _, r := range test {
		if r.Partition != models.PartitionTest {
			t.Errorf("test row labelled %q", r.Partition)
		}
		if _, dup := seen[r.HypID]; dup {
			t.Errorf("%s in both subsets", r.HypID)
		}
	}
	// Bernoulli draws: expect roughly 700 with generous tolerance.
	if len(train) < 600 || len(train) > 800 {
		t.Errorf("train size %d far from 700", len(train))
	}
	if recs[0].Partition != "" {
		t.Error("input must not be modified")
	}
}

func TestSplit_reproducibleWithSeed(t *testing.T) {
	recs := makeRecords(200)
	a, _ := New(0.5, 7)
	b, _ := New(0.5, 7)
	trainA, _ := a.Split(recs)
	trainB, _ := b.Split(recs)
	if len(trainA) != len(trainB) {
		t.Fatalf("same seed gave %d vs %d", len(trainA), len(trainB))
	}
	for i := range trainA {
		if trainA[i].HypID != trainB[i].HypID {
			t.Fatalf("row %d differs: %s vs %s", i, trainA[i].HypID, trainB[i].HypID)
		}
	}

	c, _ := New(0.5, 8)
	maskA, _ := New(0.5, 7)
	ma, mc := maskA.Mask(200), c.Mask(200)
	same := true
	for i := range ma {
		if ma[i] != mc[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("different seeds should give different membership")
	}
}

func TestSplit_empty(t *testing.T) {
	s, _ := New(0.8, 1)
	train, test := s.Split(nil)
	if len(train) != 0 || len(test) != 0 {
		t.Errorf("got %d/%d", len(train), len(test))
	}
}
