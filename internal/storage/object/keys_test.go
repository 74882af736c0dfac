package object

import "testing"

func TestSheetRefKeys(t *testing.T) {
	ref := SheetRef{OrganizationID: "org1", ProjectID: "proj1", PlanID: "plan1", SheetNumber: 7}

	if got, want := ref.PageKey(), "organizations/org1/projects/proj1/plans/plan1/sheets/7/page.pdf"; got != want {
		t.Errorf("PageKey = %s, want %s", got, want)
	}
	if got, want := ref.DziKey(), "organizations/org1/projects/proj1/plans/plan1/sheets/7/sheet.dzi"; got != want {
		t.Errorf("DziKey = %s, want %s", got, want)
	}
	if got, want := ref.TileKey(12, 3, 4), "organizations/org1/projects/proj1/plans/plan1/sheets/7/tiles/12/3_4.jpg"; got != want {
		t.Errorf("TileKey = %s, want %s", got, want)
	}
	if got, want := ref.MarkersKey(), "organizations/org1/projects/proj1/plans/plan1/sheets/7/markers.json"; got != want {
		t.Errorf("MarkersKey = %s, want %s", got, want)
	}
	if got, want := OriginalKey("org1", "proj1", "plan1"), "organizations/org1/projects/proj1/plans/plan1/original.pdf"; got != want {
		t.Errorf("OriginalKey = %s, want %s", got, want)
	}
}
