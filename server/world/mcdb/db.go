package mcdb

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/df-mc/goleveldb/leveldb"
	"github.com/df-mc/goleveldb/leveldb/opt"
	"github.com/dm-vev/adamant/server/world"
	"github.com/sandertv/gophertunnel/minecraft/nbt"
)

// chunkVersion is the version written for every chunk saved. It marks the
// legacy sub chunk format where every sub chunk holds block IDs, metadata and
// both light channels.
const chunkVersion = 3

// Config holds the optional parameters of a DB.
type Config struct {
	// Log is the Logger used to log errors and debug messages. If nil,
	// slog.Default() is used.
	Log *slog.Logger
	// Compression specifies the compression to use for compressing new data in
	// the database. Decompression of the database will happen based on IDs
	// found in the compressed blocks and is therefore uninfluenced by this
	// field. If left empty, Compression will default to opt.FlateCompression.
	Compression opt.Compression
	// BlockSize specifies the size of blocks to be compressed. The default
	// value, when left empty, is 16KiB (16 * opt.KiB).
	BlockSize int
	// ReadOnly opens the database in read-only mode. SaveChunk returns an
	// error for databases opened this way.
	ReadOnly bool
}

// DB implements a world.Provider that stores chunks in a leveldb database,
// using key layout of the Minecraft world format.
type DB struct {
	conf Config
	ldb  *leveldb.DB
	dir  string
	ld   levelData
}

var _ world.Provider = (*DB)(nil)

// levelData is the data stored in the level.dat file of a world.
type levelData struct {
	LevelName       string `nbt:"LevelName"`
	LastPlayed      int64  `nbt:"LastPlayed"`
	StorageVersion  int32  `nbt:"StorageVersion"`
	WorldStartCount int64  `nbt:"WorldStartCount"`
}

// Open creates a new DB reading and writing from/to files under the path
// passed using default options. If a world is present at the path, Open will
// parse its data and initialise the world with it. If the data cannot be
// parsed, an error is returned.
func Open(dir string) (*DB, error) {
	var conf Config
	return conf.Open(dir)
}

// Open creates a new DB reading and writing from/to files under the path
// passed. If a world is present at the path, Open will parse its data and
// initialise the world with it. If the data cannot be parsed, an error is
// returned.
func (conf Config) Open(dir string) (*DB, error) {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	conf.Log = conf.Log.With("provider", "mcdb")
	if conf.Compression == opt.DefaultCompression {
		conf.Compression = opt.FlateCompression
	}
	if conf.BlockSize == 0 {
		conf.BlockSize = 16 * opt.KiB
	}
	_ = os.MkdirAll(filepath.Join(dir, "db"), 0777)

	db := &DB{conf: conf, dir: dir}
	if err := db.readLevelDat(); err != nil {
		return nil, err
	}
	ldb, err := leveldb.OpenFile(filepath.Join(dir, "db"), &opt.Options{
		Compression: conf.Compression,
		BlockSize:   conf.BlockSize,
		ReadOnly:    conf.ReadOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("open db: leveldb: %w", err)
	}
	db.ldb = ldb
	return db, nil
}

// readLevelDat reads the level.dat of the world, initialising default values
// if it does not exist.
func (db *DB) readLevelDat() error {
	f, err := os.ReadFile(filepath.Join(db.dir, "level.dat"))
	if errors.Is(err, os.ErrNotExist) {
		db.ld = levelData{LevelName: "World", StorageVersion: chunkVersion, WorldStartCount: 1}
		return nil
	} else if err != nil {
		return fmt.Errorf("open db: read level.dat: %w", err)
	}
	// The first 8 bytes are a header (version and length): We don't need it.
	if len(f) < 8 {
		return fmt.Errorf("open db: level.dat exists but has no data")
	}
	if err := nbt.UnmarshalEncoding(f[8:], &db.ld, nbt.LittleEndian); err != nil {
		return fmt.Errorf("open db: decode level.dat: %w", err)
	}
	db.ld.WorldStartCount++
	return nil
}

// LevelName returns the name of the world as stored in the level.dat.
func (db *DB) LevelName() string {
	return db.ld.LevelName
}

// SetLevelName changes the name of the world written to the level.dat when
// the DB is closed.
func (db *DB) SetLevelName(name string) {
	db.ld.LevelName = name
}

// LoadChunk loads the chunk at the position passed from the database. An
// error wrapping world.ErrChunkNotFound is returned if no chunk is stored at
// the position.
func (db *DB) LoadChunk(pos world.ChunkPos) (*world.Chunk, error) {
	key := index(pos)
	if _, err := db.ldb.Get(append(key, keyVersion), nil); errors.Is(err, leveldb.ErrNotFound) {
		// The new key was not found, so we try the old key.
		if _, err = db.ldb.Get(append(key, keyVersionOld), nil); errors.Is(err, leveldb.ErrNotFound) {
			return nil, fmt.Errorf("load chunk %v: %w", pos, world.ErrChunkNotFound)
		} else if err != nil {
			return nil, fmt.Errorf("load chunk %v: read version: %w", pos, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("load chunk %v: read version: %w", pos, err)
	}

	c := world.NewChunk(pos)
	for i := 0; i < 16; i++ {
		sub, err := db.ldb.Get(append(key, keySubChunkData, uint8(i)), nil)
		if errors.Is(err, leveldb.ErrNotFound) {
			// No sub chunk present at this Y level. We skip this one and move
			// to the next, which might still be present.
			continue
		} else if err != nil {
			return nil, fmt.Errorf("load chunk %v: read sub chunk %v: %w", pos, i, err)
		}
		if len(sub) == 0 || sub[0] != 0 {
			return nil, fmt.Errorf("load chunk %v: sub chunk %v: unsupported storage version", pos, i)
		}
		s, err := world.SliceFromBytes(i, sub[1:])
		if err != nil {
			return nil, fmt.Errorf("load chunk %v: %w", pos, err)
		}
		c.SetSlice(i, s)
	}

	data2D, err := db.ldb.Get(append(key, key2DData), nil)
	if err != nil && !errors.Is(err, leveldb.ErrNotFound) {
		return nil, fmt.Errorf("load chunk %v: read 2D data: %w", pos, err)
	}
	if len(data2D) >= 512+256 {
		// The height map is recalculated after loading, so only the biomes
		// are read.
		biomes := data2D[512:]
		for x := uint8(0); x < 16; x++ {
			for z := uint8(0); z < 16; z++ {
				c.SetBiome(x, z, biomes[int(z)<<4|int(x)])
			}
		}
	}

	blockNBT, err := db.ldb.Get(append(key, keyBlockEntities), nil)
	// Block entities aren't present when there aren't any, so it's okay if we
	// can't find the key.
	if err != nil && !errors.Is(err, leveldb.ErrNotFound) {
		return nil, fmt.Errorf("load chunk %v: read block entities: %w", pos, err)
	}
	buf := bytes.NewBuffer(blockNBT)
	dec := nbt.NewDecoderWithEncoding(buf, nbt.LittleEndian)
	for buf.Len() != 0 {
		var m map[string]any
		if err := dec.Decode(&m); err != nil {
			return nil, fmt.Errorf("load chunk %v: decode block entity: %w", pos, err)
		}
		x, y, z, ok := blockEntityPos(m)
		if !ok {
			db.conf.Log.Debug("Skipping block entity without position.", "X", pos[0], "Z", pos[1])
			continue
		}
		c.SetTileEntity(uint8(x), int16(y), uint8(z), m)
	}
	return c, nil
}

// blockEntityPos reads the absolute position of a block entity from its NBT.
func blockEntityPos(m map[string]any) (x, y, z int32, ok bool) {
	x, okX := m["x"].(int32)
	y, okY := m["y"].(int32)
	z, okZ := m["z"].(int32)
	return x, y, z, okX && okY && okZ
}

// SaveChunk saves the chunk passed at the position passed to the database.
// All keys of the chunk are written in a single batch. Slices without blocks
// and light are deleted rather than stored.
func (db *DB) SaveChunk(pos world.ChunkPos, c *world.Chunk) error {
	if db.conf.ReadOnly {
		return fmt.Errorf("save chunk %v: database is read-only", pos)
	}
	key := index(pos)
	batch := new(leveldb.Batch)
	batch.Put(append(key, keyVersion), []byte{chunkVersion})

	for i := 0; i < 16; i++ {
		s := c.Slice(i)
		if s == nil || s.IsEmpty() {
			batch.Delete(append(key, keySubChunkData, uint8(i)))
			continue
		}
		batch.Put(append(key, keySubChunkData, uint8(i)), append([]byte{0}, s.Bytes()...))
	}

	data2D := make([]byte, 512+256)
	for x := uint8(0); x < 16; x++ {
		for z := uint8(0); z < 16; z++ {
			i := int(z)<<4 | int(x)
			binary.LittleEndian.PutUint16(data2D[i*2:], uint16(c.Height(x, z)))
			data2D[512+i] = c.Biome(x, z)
		}
	}
	batch.Put(append(key, key2DData), data2D)

	finalisation := make([]byte, 4)
	binary.LittleEndian.PutUint32(finalisation, 2)
	batch.Put(append(key, keyFinalisation), finalisation)

	if tiles := c.TileEntities(); len(tiles) == 0 {
		batch.Delete(append(key, keyBlockEntities))
	} else {
		buf := bytes.NewBuffer(nil)
		enc := nbt.NewEncoderWithEncoding(buf, nbt.LittleEndian)
		for _, d := range tiles {
			if err := enc.Encode(d); err != nil {
				return fmt.Errorf("save chunk %v: encode block entity: %w", pos, err)
			}
		}
		batch.Put(append(key, keyBlockEntities), buf.Bytes())
	}
	if err := db.ldb.Write(batch, nil); err != nil {
		return fmt.Errorf("save chunk %v: %w", pos, err)
	}
	return nil
}

// Close closes the database, writing the level.dat and levelname.txt of the
// world.
func (db *DB) Close() error {
	if !db.conf.ReadOnly {
		if err := db.writeLevelDat(); err != nil {
			db.conf.Log.Error("close db: " + err.Error())
		}
	}
	if err := db.ldb.Close(); err != nil {
		return fmt.Errorf("close db: leveldb: %w", err)
	}
	return nil
}

// writeLevelDat writes the level.dat and levelname.txt files of the world.
func (db *DB) writeLevelDat() error {
	db.ld.LastPlayed = time.Now().Unix()
	nbtData, err := nbt.MarshalEncoding(db.ld, nbt.LittleEndian)
	if err != nil {
		return fmt.Errorf("encode level.dat: %w", err)
	}
	buf := bytes.NewBuffer(nil)
	_ = binary.Write(buf, binary.LittleEndian, int32(3))
	_ = binary.Write(buf, binary.LittleEndian, int32(len(nbtData)))
	_, _ = buf.Write(nbtData)

	if err := os.WriteFile(filepath.Join(db.dir, "level.dat"), buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("write level.dat: %w", err)
	}
	//noinspection SpellCheckingInspection
	if err := os.WriteFile(filepath.Join(db.dir, "levelname.txt"), []byte(db.ld.LevelName), 0644); err != nil {
		return fmt.Errorf("write levelname.txt: %w", err)
	}
	return nil
}

// index returns a byte buffer holding the written index of the chunk position
// passed.
func index(pos world.ChunkPos) []byte {
	x, z := uint32(pos[0]), uint32(pos[1])
	b := make([]byte, 8)
	binary.LittleEndian.PutUint32(b, x)
	binary.LittleEndian.PutUint32(b[4:], z)
	return b
}
