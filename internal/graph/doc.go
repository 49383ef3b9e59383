// Package graph loads inference graphs.
//
// An inference graph is a set of services declared in an HCL file next to the
// code that implements them. A graph reference of the form
// "<module>:<Entrypoint>" names the file (the module, with dots mapping to
// directories) and the service the graph is entered through. Only services
// reachable from the entrypoint through depends_on belong to the graph.
//
// A graph file looks like this:
//
//	service "Frontend" {
//	  depends_on = ["Middle"]
//	  command    = ["python3", "-m", "hello_world.frontend"]
//	  config = {
//	    model = "deepseek-ai/DeepSeek-R1-Distill-Llama-8B"
//	  }
//	}
//
//	service "Middle" {
//	  workers = 2
//	  command = ["python3", "-m", "hello_world.middle"]
//	  resources {
//	    gpu = "1"
//	  }
//	}
//
//	build {
//	  run     = ["pip install -r requirements.txt"]
//	  exclude = [".venv", "__pycache__"]
//	}
//
// Per-service configuration comes from three layers, merged in order: the
// config attribute of each service block, an optional YAML config file, and
// "--Service.key=value" command-line overrides. The merged result is handed
// to services as JSON in DYNAMO_SERVICE_CONFIG.
//
// Example usage:
//
//	ref, err := graph.ParseRef("hello_world:Frontend")
//	if err != nil {
//	    return err
//	}
//
//	g, err := graph.Load(ctx, ".", ref)
//	if err != nil {
//	    return err
//	}
//
//	for _, svc := range g.Order() {
//	    fmt.Println(svc.Name)
//	}
package graph
