package labeltree

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/pbaille/labeltree/internal/domain"
	"github.com/pbaille/labeltree/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildAnimals creates animal -> {cow, horse -> {pony}} and returns the tree and leaves by name
func buildAnimals(t *testing.T, repo store.Repository) (*LabelTree, map[string]*domain.LabelLeaf) {
	t.Helper()
	ctx := context.Background()

	tree := New(repo)
	root, err := tree.CreateRoot(ctx, "animal", nil)
	require.NoError(t, err)
	cow, err := tree.CreateChild(ctx, root.ID, "cow", nil)
	require.NoError(t, err)
	ext := "wd:Q726"
	horse, err := tree.CreateChild(ctx, root.ID, "horse", &ext)
	require.NoError(t, err)
	pony, err := tree.CreateChild(ctx, horse.ID, "pony", nil)
	require.NoError(t, err)

	return tree, map[string]*domain.LabelLeaf{
		"animal": root, "cow": cow, "horse": horse, "pony": pony,
	}
}

func recordIDs(records []domain.Record) []int64 {
	ids := make([]int64, 0, len(records))
	for _, r := range records {
		ids = append(ids, r[domain.FieldID].(int64))
	}
	return ids
}

func TestCreateRoot(t *testing.T) {
	repo := store.NewMemory()
	tree := New(repo)

	ext := "ext-1"
	root, err := tree.CreateRoot(context.Background(), "animal", &ext)
	require.NoError(t, err)

	assert.NotZero(t, root.ID)
	assert.True(t, root.IsRoot)
	assert.Nil(t, root.ParentLeafID)
	assert.Same(t, root, tree.Root())
	assert.Equal(t, 1, tree.Len())

	stored, err := repo.Find(context.Background(), root.ID)
	require.NoError(t, err)
	assert.Equal(t, "animal", stored.Name)
	require.NotNil(t, stored.ExternalID)
	assert.Equal(t, "ext-1", *stored.ExternalID)
}

func TestCreateRoot_StoreErrorPropagates(t *testing.T) {
	repo := store.NewMemory()
	boom := errors.New("disk full")
	repo.FailCommit = boom

	tree := New(repo)
	_, err := tree.CreateRoot(context.Background(), "animal", nil)
	require.ErrorIs(t, err, boom)
	assert.Nil(t, tree.Root())
	assert.Zero(t, tree.Len())
}

func TestCreateChild_RecordsAndIndex(t *testing.T) {
	repo := store.NewMemory()
	tree, leaves := buildAnimals(t, repo)

	records := tree.Records()
	require.Len(t, records, 4)
	assert.ElementsMatch(t, tree.IDs(), recordIDs(records))

	for _, name := range []string{"animal", "cow", "horse", "pony"} {
		leaf, ok := tree.Leaf(leaves[name].ID)
		require.True(t, ok, name)
		assert.Equal(t, name, leaf.Name)
	}
	assert.Equal(t, leaves["horse"].ID, *leaves["pony"].ParentLeafID)
}

func TestCreateChild_UnknownParentFailsInStore(t *testing.T) {
	for _, driver := range []string{store.DriverMemory, store.DriverSQLite, store.DriverGormSQLite} {
		t.Run(driver, func(t *testing.T) {
			repo, err := store.Open(driver, filepath.Join(t.TempDir(), "labels.db"), nil)
			require.NoError(t, err)
			defer repo.Close()

			tree := New(repo)
			root, err := tree.CreateRoot(context.Background(), "animal", nil)
			require.NoError(t, err)

			_, err = tree.CreateChild(context.Background(), 999, "ghost", nil)
			require.Error(t, err)
			assert.Equal(t, 1, tree.Len())

			children, err := repo.Children(context.Background(), 999)
			require.NoError(t, err)
			assert.Empty(t, children)

			// The root is still the only leaf the store knows about.
			none, err := repo.Children(context.Background(), root.ID)
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestCreateChild_ParentNotIndexed(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemory()
	_, leaves := buildAnimals(t, repo)

	// Loaded by reference: only the root is indexed.
	tree := FromLeaf(repo, leaves["animal"])
	child, err := tree.CreateChild(ctx, leaves["horse"].ID, "donkey", nil)
	require.NoError(t, err)

	_, ok := tree.Leaf(child.ID)
	assert.True(t, ok)

	_, err = tree.ChildValues(ctx, leaves["horse"].ID, domain.FieldName)
	require.ErrorIs(t, err, ErrNotIndexed)
}

func TestLoad_IndexesWholeTree(t *testing.T) {
	repo := store.NewMemory()
	_, leaves := buildAnimals(t, repo)

	tree, err := Load(context.Background(), repo, leaves["animal"].ID)
	require.NoError(t, err)

	assert.Equal(t, 4, tree.Len())
	assert.Equal(t, "animal", tree.Root().Name)
	// Pre-order, children in store order.
	assert.Equal(t, []int64{
		leaves["animal"].ID, leaves["cow"].ID, leaves["horse"].ID, leaves["pony"].ID,
	}, tree.IDs())
}

func TestLoad_Subtree(t *testing.T) {
	repo := store.NewMemory()
	_, leaves := buildAnimals(t, repo)

	tree, err := Load(context.Background(), repo, leaves["horse"].ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{leaves["horse"].ID, leaves["pony"].ID}, tree.IDs())
}

func TestLoad_MissingRoot(t *testing.T) {
	_, err := Load(context.Background(), store.NewMemory(), 42)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestFromLeaf_IndexesOnlyRoot(t *testing.T) {
	repo := store.NewMemory()
	_, leaves := buildAnimals(t, repo)

	tree := FromLeaf(repo, leaves["animal"])
	assert.Equal(t, 1, tree.Len())
	assert.Equal(t, []int64{leaves["animal"].ID}, tree.IDs())
}

func TestDeleteSubtree_KeepsLeafAndDoesNotCommit(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemory()
	tree, leaves := buildAnimals(t, repo)

	require.NoError(t, tree.DeleteSubtree(ctx, leaves["horse"]))
	// Staged only.
	_, err := repo.Find(ctx, leaves["pony"].ID)
	require.NoError(t, err)

	require.NoError(t, repo.Commit(ctx))
	_, err = repo.Find(ctx, leaves["pony"].ID)
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = repo.Find(ctx, leaves["horse"].ID)
	require.NoError(t, err)
	assert.Equal(t, 3, repo.Len())
}

func TestDeleteTree(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemory()
	tree, leaves := buildAnimals(t, repo)

	require.NoError(t, tree.DeleteTree(ctx))

	for name, leaf := range leaves {
		_, err := repo.Find(ctx, leaf.ID)
		require.ErrorIs(t, err, store.ErrNotFound, name)
	}
	assert.Zero(t, repo.Len())
	assert.Nil(t, tree.Root())
	assert.Zero(t, tree.Len())

	require.ErrorIs(t, tree.DeleteTree(ctx), ErrNoRoot)
}

func TestDeleteTree_CommitFailure(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemory()
	tree, _ := buildAnimals(t, repo)

	boom := errors.New("connection reset")
	repo.FailCommit = boom
	require.ErrorIs(t, tree.DeleteTree(ctx), boom)

	// Nothing was applied and the tree is still usable.
	assert.Equal(t, 4, repo.Len())
	assert.NotNil(t, tree.Root())
}
