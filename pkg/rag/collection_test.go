package rag

import (
	"testing"

	"github.com/loomlabs/loom/pkg/fault"
)

func treeWithSecretDocs(t *testing.T) *CollectionTree {
	t.Helper()
	tree := NewCollectionTree()
	mustCreate := func(path string, queryableBy ...string) {
		t.Helper()
		if _, err := tree.Create(path, queryableBy, nil); err != nil {
			t.Fatal(err)
		}
	}
	mustCreate("/docs")
	mustCreate("/docs/secret", "7")
	mustCreate("/docs/secret/public")
	return tree
}

func TestEffectivePermissionIntersection(t *testing.T) {
	tree := treeWithSecretDocs(t)

	principals, restricted, err := tree.Effective("/docs/secret/public")
	if err != nil {
		t.Fatal(err)
	}
	if !restricted {
		t.Fatal("child with an open set must inherit the parent's restriction")
	}
	if len(principals) != 1 || !principals["7"] {
		t.Fatalf("effective = %v, want {7}", principals)
	}

	if _, restricted, _ = tree.Effective("/docs"); restricted {
		t.Error("unrestricted root reported as restricted")
	}
}

func TestChildCannotWidenParentPermission(t *testing.T) {
	tree := NewCollectionTree()
	if _, err := tree.Create("/hr", []string{"1"}, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := tree.Create("/hr/reviews", []string{"1", "2"}, nil); err != nil {
		t.Fatal(err)
	}

	principals, _, err := tree.Effective("/hr/reviews")
	if err != nil {
		t.Fatal(err)
	}
	if principals["2"] {
		t.Error("child granted a principal absent from the parent set")
	}
	if !principals["1"] {
		t.Error("shared principal lost in intersection")
	}
}

func TestCanQueryLaw(t *testing.T) {
	tree := treeWithSecretDocs(t)

	cases := []struct {
		path string
		auth Authorization
		want bool
	}{
		{"/docs", Authorization{PrincipalIDs: []string{"9"}}, true},
		{"/docs/secret", Authorization{PrincipalIDs: []string{"9"}}, false},
		{"/docs/secret/public", Authorization{PrincipalIDs: []string{"9"}}, false},
		{"/docs/secret", Authorization{PrincipalIDs: []string{"7"}}, true},
		{"/docs/secret/public", Authorization{PrincipalIDs: []string{"7"}}, true},
		{"/docs/secret", Authorization{IsAdmin: true}, true},
		{"/docs/secret", Authorization{}, false},
	}
	for _, tc := range cases {
		got, err := tree.CanQuery(tc.path, tc.auth)
		if err != nil {
			t.Fatal(err)
		}
		if got != tc.want {
			t.Errorf("canQuery(%s, %+v) = %v, want %v", tc.path, tc.auth, got, tc.want)
		}
	}
}

func TestCollectionCreateRequiresParent(t *testing.T) {
	tree := NewCollectionTree()
	if _, err := tree.Create("/a/b", nil, nil); fault.KindOf(err) != fault.KindValidation {
		t.Fatalf("creating under a missing parent: kind = %v", fault.KindOf(err))
	}
	if _, err := tree.Create("docs", nil, nil); fault.KindOf(err) != fault.KindValidation {
		t.Fatal("relative path accepted")
	}
	if _, err := tree.Create("/docs/", nil, nil); fault.KindOf(err) != fault.KindValidation {
		t.Fatal("trailing slash accepted")
	}

	if _, err := tree.Create("/docs", nil, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := tree.Create("/docs", nil, nil); fault.KindOf(err) != fault.KindValidation {
		t.Fatal("duplicate path accepted")
	}
}

func TestCollectionDeleteRequiresNoChildren(t *testing.T) {
	tree := treeWithSecretDocs(t)

	if err := tree.Delete("/docs/secret"); fault.KindOf(err) != fault.KindValidation {
		t.Fatalf("deleting a collection with children: kind = %v", fault.KindOf(err))
	}
	if err := tree.Delete("/docs/secret/public"); err != nil {
		t.Fatal(err)
	}
	if err := tree.Delete("/docs/secret"); err != nil {
		t.Fatal(err)
	}

	node, err := tree.Get("/docs")
	if err != nil {
		t.Fatal(err)
	}
	if !node.IsLeaf {
		t.Error("parent did not become a leaf after losing its children")
	}
}

func TestSubtreeListsDescendants(t *testing.T) {
	tree := treeWithSecretDocs(t)
	got := tree.Subtree("/docs/secret")
	want := []string{"/docs/secret", "/docs/secret/public"}
	if len(got) != len(want) {
		t.Fatalf("subtree = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("subtree = %v, want %v", got, want)
		}
	}
}
