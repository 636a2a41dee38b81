package fs

import (
	"jfsd/internal/defs"
	"jfsd/internal/ustr"
	"jfsd/internal/util"
)

// dirLookup scans every file-record slot of every block of dir for an
// exact name match, first-fit, skipping empty slots. Grounded on the
// original fs/fs.c dir_lookup.
func (fsys *FileSystem_t) dirLookup(dir FileRecord_t, name ustr.Ustr) (FileRecord_t, bool) {
	nblocks := util.Ceildiv(dir.Size(), defs.BLKSIZE)
	for bno := 0; bno < nblocks; bno++ {
		get, _, err := fsys.blockWalk(dir, bno, false)
		if err != 0 {
			continue
		}
		b := get()
		if b == 0 {
			continue
		}
		data := fsys.DM.Touch(b)
		for slot := 0; slot < defs.BLKFILES; slot++ {
			fr := FileRecord_t{Data: data, Off: slot * defs.FileRecordSize, Block: b}
			if fr.Empty() {
				continue
			}
			if fr.Name().Eq(name) {
				return fr, true
			}
		}
	}
	return FileRecord_t{}, false
}

// findEmptySlot returns the first empty file-record slot in dir's
// existing blocks.
func (fsys *FileSystem_t) findEmptySlot(dir FileRecord_t) (FileRecord_t, bool) {
	nblocks := util.Ceildiv(dir.Size(), defs.BLKSIZE)
	for bno := 0; bno < nblocks; bno++ {
		get, _, err := fsys.blockWalk(dir, bno, false)
		if err != 0 {
			continue
		}
		b := get()
		if b == 0 {
			continue
		}
		data := fsys.DM.Touch(b)
		for slot := 0; slot < defs.BLKFILES; slot++ {
			fr := FileRecord_t{Data: data, Off: slot * defs.FileRecordSize, Block: b}
			if fr.Empty() {
				return fr, true
			}
		}
	}
	return FileRecord_t{}, false
}

// WalkPath resolves p component by component from the root embedded in
// the super block. If the terminal component cannot be found but its
// parent exists, it returns NotFound with parent and name populated so
// Create can use them. Grounded on the original fs/fs.c walk_path.
func (fsys *FileSystem_t) WalkPath(p ustr.Ustr) (file, parent FileRecord_t, name ustr.Ustr, err defs.Err_t) {
	cur := fsys.Super.Root()
	comps := p.Components()
	if len(comps) == 0 {
		return cur, FileRecord_t{}, nil, 0
	}
	var par FileRecord_t
	for i, comp := range comps {
		if len(comp) > defs.MAX_NAME {
			return FileRecord_t{}, FileRecord_t{}, nil, defs.BadPath
		}
		if !cur.IsDir() {
			return FileRecord_t{}, FileRecord_t{}, nil, defs.NotFound
		}
		next, found := fsys.dirLookup(cur, comp)
		if !found {
			if i == len(comps)-1 {
				return FileRecord_t{}, cur, comp, defs.NotFound
			}
			return FileRecord_t{}, FileRecord_t{}, nil, defs.NotFound
		}
		par = cur
		cur = next
	}
	return cur, par, comps[len(comps)-1], 0
}

// Create creates a new file (or, if isdir, a directory) at path.
// Grounded on the original fs/fs.c file_create/dir_alloc_file.
func (fsys *FileSystem_t) Create(path ustr.Ustr, isdir bool) (FileRecord_t, defs.Err_t) {
	_, parent, name, err := fsys.WalkPath(path)
	if err == 0 {
		return FileRecord_t{}, defs.FileExists
	}
	if err != defs.NotFound || parent.Data == nil {
		return FileRecord_t{}, err
	}

	slot, ok := fsys.findEmptySlot(parent)
	if !ok {
		nblocks := util.Ceildiv(parent.Size(), defs.BLKSIZE)
		blk, gerr := fsys.GetBlock(parent, nblocks)
		if gerr != 0 {
			return FileRecord_t{}, gerr
		}
		parent.SetSize(parent.Size() + defs.BLKSIZE)
		fsys.markDirty(parent)
		data := fsys.DM.Touch(blk)
		slot = FileRecord_t{Data: data, Off: 0, Block: blk}
	}

	slot.SetName(name)
	if isdir {
		slot.SetFtype(defs.FTypeDir)
	} else {
		slot.SetFtype(defs.FTypeRegular)
	}
	slot.SetSize(0)
	fsys.markDirty(slot)
	fsys.FlushMeta(parent)
	return slot, 0
}

// Remove resolves path to a file, truncates it to zero blocks, and
// clears its slot. Grounded on the original fs/fs.c file_remove.
func (fsys *FileSystem_t) Remove(path ustr.Ustr) defs.Err_t {
	file, _, _, err := fsys.WalkPath(path)
	if err != 0 {
		return err
	}
	fsys.TruncateBlocks(file, 0)
	file.Clear()
	fsys.markDirty(file)
	return fsys.FlushMeta(file)
}
