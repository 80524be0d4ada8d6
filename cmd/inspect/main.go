package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/dm-vev/adamant/server/world"
	"github.com/dm-vev/adamant/server/world/mcdb"
	"github.com/fatih/color"
)

func main() {
	dir := flag.String("world", "world", "folder of the world to inspect")
	x := flag.Int("x", 0, "X coordinate of the chunk")
	z := flag.Int("z", 0, "Z coordinate of the chunk")
	flag.Parse()

	db, err := mcdb.Config{ReadOnly: true}.Open(*dir)
	if err != nil {
		fail(err)
	}
	defer db.Close()

	pos := world.ChunkPos{int32(*x), int32(*z)}
	c, err := db.LoadChunk(pos)
	if err != nil {
		fail(err)
	}
	c.RecalculateHeightMap()

	heading := color.New(color.FgGreen, color.Bold)
	heading.Printf("%s: chunk %v\n", db.LevelName(), pos)
	for i, s := range c.Slices() {
		if s == nil {
			continue
		}
		counts := map[uint8]int{}
		for bx := uint8(0); bx < 16; bx++ {
			for by := uint8(0); by < 16; by++ {
				for bz := uint8(0); bz < 16; bz++ {
					if id := s.Block(bx, by, bz); id != 0 {
						counts[id]++
					}
				}
			}
		}
		fmt.Printf("  slice %2d (Y %3d-%3d): %s\n", i, i*16, i*16+15, formatCounts(counts))
	}
	heading.Println("Height map")
	for bz := uint8(0); bz < 16; bz++ {
		row := make([]string, 16)
		for bx := uint8(0); bx < 16; bx++ {
			row[bx] = fmt.Sprintf("%3d", c.Height(bx, bz))
		}
		fmt.Println("  " + strings.Join(row, " "))
	}
	if tiles := c.TileEntities(); len(tiles) > 0 {
		heading.Printf("Tile entities (%d)\n", len(tiles))
		for _, t := range tiles {
			fmt.Printf("  %v at (%v, %v, %v)\n", t["id"], t["x"], t["y"], t["z"])
		}
	}
}

func formatCounts(counts map[uint8]int) string {
	if len(counts) == 0 {
		return "air"
	}
	parts := make([]string, 0, len(counts))
	for id := 0; id < 256; id++ {
		if n, ok := counts[uint8(id)]; ok {
			parts = append(parts, fmt.Sprintf("%d x%d", id, n))
		}
	}
	return strings.Join(parts, ", ")
}

func fail(err error) {
	color.New(color.FgRed).Fprintln(os.Stderr, err)
	os.Exit(1)
}
