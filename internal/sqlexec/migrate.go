package sqlexec

import (
	"context"
	"fmt"
	"strings"
)

// RenameColumn copies every row of oldTable into newTable with oldName
// written to newName. The live column set is discovered from the engine,
// not from any static schema description, so the copy survives tables that
// have grown columns since the code was written. An empty source table is
// a silent no-op; creating newTable is the caller's responsibility.
func (d *Database) RenameColumn(ctx context.Context, oldTable, newTable, oldName, newName string) error {
	cur, err := d.Query(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT 1", Ident(oldTable)))
	if err != nil {
		return err
	}

	ok, err := cur.Next()
	if err != nil {
		_ = cur.Close()
		return err
	}
	if !ok {
		return cur.Close()
	}

	count := cur.ColumnCount()
	src := make([]string, 0, count)
	dst := make([]string, 0, count)
	for i := 0; i < count; i++ {
		name, nameErr := cur.ColumnName(i)
		if nameErr != nil {
			_ = cur.Close()
			return nameErr
		}
		src = append(src, Ident(name))
		if name == oldName {
			name = newName
		}
		dst = append(dst, Ident(name))
	}
	// The cursor holds the only connection; release it before writing.
	if err := cur.Close(); err != nil {
		return err
	}

	copySQL := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
		Ident(newTable),
		strings.Join(dst, ", "),
		strings.Join(src, ", "),
		Ident(oldTable),
	)
	return d.Exec(ctx, copySQL)
}
