package surface

import "isoterrain/internal/voxel"

// Cube corners are numbered x + 2y + 4z.
var cubeCorners = [8]voxel.Vec3i{
	{X: 0, Y: 0, Z: 0}, {X: 1, Y: 0, Z: 0}, {X: 0, Y: 1, Z: 0}, {X: 1, Y: 1, Z: 0},
	{X: 0, Y: 0, Z: 1}, {X: 1, Y: 0, Z: 1}, {X: 0, Y: 1, Z: 1}, {X: 1, Y: 1, Z: 1},
}

// cubeEdge joins corner a to corner b, which lies one step further along axis.
type cubeEdge struct {
	a, b int
	axis int
}

var cubeEdges = [12]cubeEdge{
	{0, 1, 0}, {2, 3, 0}, {4, 5, 0}, {6, 7, 0},
	{0, 2, 1}, {1, 3, 1}, {4, 6, 1}, {5, 7, 1},
	{0, 4, 2}, {1, 5, 2}, {2, 6, 2}, {3, 7, 2},
}

// Each face lists its corners counter-clockwise as seen from outside the cube.
var cubeFaces = [][]int{
	{0, 4, 6, 2}, {1, 3, 7, 5},
	{0, 1, 5, 4}, {2, 6, 7, 3},
	{0, 2, 3, 1}, {4, 5, 7, 6},
}

// A transition cell joins a 3x3 grid of fine samples on the face of a coarse tile (front, vertex
// i + 3j) to the four coarse corners behind it (back, vertices 9..12, copies of front 0, 2, 6, 8).
// The connecting edges between a front corner and its back copy never cross the surface.
var transitionBack = [4]int{0, 2, 6, 8}

// transitionEdge describes edge ids 0..15 of the transition cell. Front edges start at half-grid
// position (i, j); back edges start at coarse position (i, j). dir is 0 along the face's first
// in-plane axis and 1 along the second.
type transitionEdge struct {
	i, j int
	dir  int
	back bool
}

var transitionEdges [16]transitionEdge

var (
	regularCases    [256][][3]uint8
	transitionCases [512][][3]uint8
)

// polyhedron is a closed cell whose faces are wound counter-clockwise from outside. edges maps an
// ordered vertex pair (lower id first) to its edge id.
type polyhedron struct {
	faces [][]int
	edges map[[2]int]int
	count int
}

func (p *polyhedron) addEdge(a, b, id int) {
	if a > b {
		a, b = b, a
	}
	p.edges[[2]int{a, b}] = id
	p.count = max(p.count, id+1)
}

func (p *polyhedron) edge(a, b int) int {
	if a > b {
		a, b = b, a
	}
	id, ok := p.edges[[2]int{a, b}]
	voxel.Invariant(ok, "edge %d-%d of cell table crosses the surface", a, b)
	return id
}

// triangulate builds the surface of one inside/outside labeling by walking every face. On a face,
// each crossing that enters the inside region is joined to the next crossing counter-clockwise,
// so the inside corners of an ambiguous face are always separated. The segments chain into loops
// around the inside region, each fanned into triangles whose winding faces the outside.
func (p *polyhedron) triangulate(inside func(v int) bool) [][3]uint8 {
	type crossing struct {
		edge     int
		entering bool
	}
	next := make([]int, p.count)
	for i := range next {
		next[i] = -1
	}
	for _, face := range p.faces {
		var crossings []crossing
		for k, a := range face {
			b := face[(k+1)%len(face)]
			if inside(a) == inside(b) {
				continue
			}
			crossings = append(crossings, crossing{edge: p.edge(a, b), entering: inside(b)})
		}
		for k, c := range crossings {
			if c.entering {
				next[c.edge] = crossings[(k+1)%len(crossings)].edge
			}
		}
	}

	var tris [][3]uint8
	visited := make([]bool, p.count)
	for start := range next {
		if next[start] < 0 || visited[start] {
			continue
		}
		var loop []uint8
		for e := start; !visited[e]; e = next[e] {
			visited[e] = true
			loop = append(loop, uint8(e))
		}
		for i := 1; i+1 < len(loop); i++ {
			tris = append(tris, [3]uint8{loop[0], loop[i], loop[i+1]})
		}
	}
	return tris
}

func cubeCell() *polyhedron {
	p := &polyhedron{faces: cubeFaces, edges: make(map[[2]int]int)}
	for id, e := range cubeEdges {
		p.addEdge(e.a, e.b, id)
	}
	return p
}

func transitionCell() *polyhedron {
	p := &polyhedron{edges: make(map[[2]int]int)}
	front := func(i, j int) int { return i + 3*j }
	for j := 0; j < 3; j++ {
		for i := 0; i < 2; i++ {
			id := j*2 + i
			p.addEdge(front(i, j), front(i+1, j), id)
			transitionEdges[id] = transitionEdge{i: i, j: j, dir: 0}
		}
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 2; j++ {
			id := 6 + i*2 + j
			p.addEdge(front(i, j), front(i, j+1), id)
			transitionEdges[id] = transitionEdge{i: i, j: j, dir: 1}
		}
	}
	p.addEdge(9, 10, 12)
	p.addEdge(11, 12, 13)
	p.addEdge(9, 11, 14)
	p.addEdge(10, 12, 15)
	transitionEdges[12] = transitionEdge{i: 0, j: 0, dir: 0, back: true}
	transitionEdges[13] = transitionEdge{i: 0, j: 1, dir: 0, back: true}
	transitionEdges[14] = transitionEdge{i: 0, j: 0, dir: 1, back: true}
	transitionEdges[15] = transitionEdge{i: 1, j: 0, dir: 1, back: true}

	for j := 0; j < 2; j++ {
		for i := 0; i < 2; i++ {
			p.faces = append(p.faces, []int{front(i, j), front(i, j+1), front(i+1, j+1), front(i+1, j)})
		}
	}
	p.faces = append(p.faces,
		[]int{9, 10, 12, 11},
		[]int{0, 9, 11, 6, 3},
		[]int{2, 5, 8, 12, 10},
		[]int{0, 1, 2, 10, 9},
		[]int{6, 11, 12, 8, 7},
	)
	return p
}

func init() {
	cube := cubeCell()
	for c := range regularCases {
		regularCases[c] = cube.triangulate(func(v int) bool { return c&(1<<v) != 0 })
	}
	cell := transitionCell()
	for c := range transitionCases {
		transitionCases[c] = cell.triangulate(func(v int) bool {
			if v >= 9 {
				v = transitionBack[v-9]
			}
			return c&(1<<v) != 0
		})
	}
}
