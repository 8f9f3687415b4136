package mcpserver

// GraphFormatContract describes the YAML graph definition format that LLM
// consumers should follow when creating or updating graphs.
const GraphFormatContract = `# cmmgraph Graph Definition Contract

Every graph stored by cmmgraph MUST follow this structure. Files live in the
graph directory with a ` + "`" + `.yaml` + "`" + ` extension; the graph name is the path
without extension.

## Structure

` + "```" + `yaml
output: out                 # REQUIRED – id of the node whose plug produces the result
input: src                  # OPTIONAL – node whose options size the output (default: first node)
device: mon1                # OPTIONAL – device binding whose preferred module is used
nodes:
  - id: src                 # REQUIRED – letter followed by letters, digits, _ or -
    registration: sw/starford/imaging/root.source   # REQUIRED – registration pattern
    prefer: lcms            # OPTIONAL – four character module signature
    plugs: 0                # OPTIONAL – extra plugs beyond the module's fixed ones
    sockets: 0              # OPTIONAL – extra sockets
    options:                # OPTIONAL – string values
      width: "64"
    tags:                   # OPTIONAL – free-form labels
      role: input
edges:
  - from: src.0             # socket of the upstream node, "id.index"
    to: xfm.0               # plug of the downstream node, "id.index"
` + "```" + `

## Rules

1. **Unknown keys are rejected.**
2. **Node ids are unique.** ` + "`" + `output` + "`" + `, ` + "`" + `input` + "`" + ` and every edge endpoint must name a node.
3. **Registration** is a pattern matched level by level against module
   records. A pattern without slashes is compared with the last level, so
   ` + "`" + `icc.transform` + "`" + ` selects the best ranked color transform. Keys may be
   prefixed with ` + "`" + `_` + "`" + ` (optional) or ` + "`" + `-` + "`" + ` (excluded). Use
   ` + "`" + `query_modules` + "`" + ` to see candidates and their ranks.
4. **Edges** connect a socket (producer) to a plug (consumer). A plug holds at
   most one socket; a socket may feed many plugs.
5. **Options** are strings. Changing an option invalidates the node's context
   and the contexts of every node downstream.
6. **Encoding** is UTF-8 with a trailing newline.

## Built-in registrations

- ` + "`" + `sw/starford/imaging/root.source` + "`" + ` – gradient image source (options: width, height, channels)
- ` + "`" + `sw/starford/imaging/icc.transform` + "`" + ` – color transform (options: gain, gamma, channels)
- ` + "`" + `sw/starford/imaging/blend.compositor` + "`" + ` – averages up to eight inputs
- ` + "`" + `sw/starford/imaging/output.sink` + "`" + ` – writes the result to the output array

## Example

` + "```" + `yaml
output: out
input: src
nodes:
  - id: src
    registration: sw/starford/imaging/root.source
    options:
      width: "2"
      height: "2"
  - id: xfm
    registration: icc.transform
    options:
      gamma: "2.2"
  - id: out
    registration: sw/starford/imaging/output.sink
edges:
  - from: src.0
    to: xfm.0
  - from: xfm.0
    to: out.0
` + "```" + `
`
