package thread

import (
	"testing"
	"time"

	"marginalia/api/internal/store"
)

func at(seconds int) time.Time {
	return time.Date(2026, 3, 1, 12, 0, seconds, 0, time.UTC)
}

func comment(id, parentID string, seconds int) store.Comment {
	return store.Comment{ID: id, AnnotationID: "ann_1", ParentID: parentID, CreatedAt: at(seconds)}
}

func TestBuildNesting(t *testing.T) {
	roots := Build([]store.Comment{
		comment("cm_1", "", 0),
		comment("cm_2", "cm_1", 1),
		comment("cm_3", "cm_1", 2),
		comment("cm_4", "cm_2", 3),
		comment("cm_5", "", 4),
	})

	if len(roots) != 2 {
		t.Fatalf("got %d roots, want 2", len(roots))
	}
	if roots[0].Comment.ID != "cm_1" || roots[1].Comment.ID != "cm_5" {
		t.Fatalf("root order = %s, %s", roots[0].Comment.ID, roots[1].Comment.ID)
	}
	if len(roots[0].Replies) != 2 {
		t.Fatalf("cm_1 has %d replies, want 2", len(roots[0].Replies))
	}
	if roots[0].Replies[0].Comment.ID != "cm_2" || roots[0].Replies[1].Comment.ID != "cm_3" {
		t.Fatalf("reply order = %s, %s", roots[0].Replies[0].Comment.ID, roots[0].Replies[1].Comment.ID)
	}
	if len(roots[0].Replies[0].Replies) != 1 || roots[0].Replies[0].Replies[0].Comment.ID != "cm_4" {
		t.Fatalf("cm_2 replies wrong: %+v", roots[0].Replies[0].Replies)
	}
	if Count(roots) != 5 {
		t.Fatalf("Count = %d, want 5", Count(roots))
	}
}

func TestBuildMissingParentBecomesRoot(t *testing.T) {
	roots := Build([]store.Comment{
		comment("cm_1", "", 0),
		comment("cm_2", "cm_gone", 1),
	})
	if len(roots) != 2 {
		t.Fatalf("got %d roots, want 2", len(roots))
	}
	if roots[1].Comment.ID != "cm_2" {
		t.Fatalf("orphan not promoted: %s", roots[1].Comment.ID)
	}
}

func TestBuildSelfReferenceBecomesRoot(t *testing.T) {
	roots := Build([]store.Comment{comment("cm_1", "cm_1", 0)})
	if len(roots) != 1 || roots[0].Comment.ID != "cm_1" {
		t.Fatalf("roots = %+v", roots)
	}
	if len(roots[0].Replies) != 0 {
		t.Fatalf("self-reference gained replies: %+v", roots[0].Replies)
	}
}

func TestBuildCycleBreaks(t *testing.T) {
	roots := Build([]store.Comment{
		comment("cm_1", "cm_2", 0),
		comment("cm_2", "cm_1", 1),
		comment("cm_3", "cm_1", 2),
	})

	// Both cycle members surface as roots; the honest child still attaches.
	if len(roots) != 2 {
		t.Fatalf("got %d roots, want 2", len(roots))
	}
	if Count(roots) != 3 {
		t.Fatalf("Count = %d, want 3: no comment may be dropped", Count(roots))
	}
	for _, root := range roots {
		if root.Comment.ID == "cm_1" {
			if len(root.Replies) != 1 || root.Replies[0].Comment.ID != "cm_3" {
				t.Fatalf("cm_1 replies = %+v", root.Replies)
			}
		}
	}
}

func TestBuildPreservesInputOrder(t *testing.T) {
	// Rows arrive in store order and stay there, even when timestamps
	// disagree with it.
	roots := Build([]store.Comment{
		comment("cm_b", "", 9),
		comment("cm_a", "", 0),
		comment("cm_d", "cm_b", 7),
		comment("cm_c", "cm_b", 3),
	})
	if roots[0].Comment.ID != "cm_b" || roots[1].Comment.ID != "cm_a" {
		t.Fatalf("root order = %s, %s", roots[0].Comment.ID, roots[1].Comment.ID)
	}
	replies := roots[0].Replies
	if len(replies) != 2 || replies[0].Comment.ID != "cm_d" || replies[1].Comment.ID != "cm_c" {
		t.Fatalf("reply order = %+v", replies)
	}
}

func TestBuildEmpty(t *testing.T) {
	if roots := Build(nil); len(roots) != 0 {
		t.Fatalf("roots = %+v", roots)
	}
}

func TestCanonicalRootIsEarliestComment(t *testing.T) {
	roots := Build([]store.Comment{
		comment("cm_1", "", 5),
		comment("cm_2", "cm_1", 1), // earliest even though it is a reply
		comment("cm_3", "", 9),
	})
	canonical := CanonicalRoot(roots)
	if canonical == nil || canonical.Comment.ID != "cm_2" {
		t.Fatalf("canonical = %+v, want cm_2", canonical)
	}
	if CanonicalRoot(nil) != nil {
		t.Fatal("empty forest has no canonical root")
	}
}
